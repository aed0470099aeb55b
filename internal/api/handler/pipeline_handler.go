package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/internal/pipeline"
	"amplicon-pipeline/pkg/router"
	"amplicon-pipeline/pkg/utils"
)

// RunReader is the read side of the run store
type RunReader interface {
	ListRuns() ([]model.RunRecord, error)
	GetRun(runID string) (model.RunRecord, error)
	GetLedger(runID string) ([]model.LedgerEntry, error)
	GetStageProgress(runID string) ([]model.StageMetrics, error)
	GetRunErrors(runID string) ([]model.RunError, error)
}

// Handler serves run history from the store and artifacts from each run's
// output directory. It never starts runs.
type Handler struct {
	store  RunReader
	logger *zap.Logger
}

func New(store RunReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger.Named("api")}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// runID extracts the id from /api/v1/runs/{id}[/...]
func runID(r *http.Request) string {
	return router.PathParam(r, 3)
}

// run loads the run named in the path, writing the error response itself
func (h *Handler) run(w http.ResponseWriter, r *http.Request) (model.RunRecord, bool) {
	id := runID(r)
	if id == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return model.RunRecord{}, false
	}
	run, err := h.store.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return run, false
	}
	if err != nil {
		h.logger.Error("get run", zap.String("run_id", id), zap.Error(err))
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		return run, false
	}
	return run, true
}

// outputDir reads the output directory out of the stored run configuration
func outputDir(run model.RunRecord) (string, error) {
	var cfg model.PipelineConfig
	if err := json.Unmarshal([]byte(run.Config), &cfg); err != nil {
		return "", err
	}
	if cfg.OutputDir == "" {
		return "", errors.New("run has no output directory")
	}
	return cfg.OutputDir, nil
}

// Health reports liveness
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

// ListRuns retrieves all pipeline runs
// @Summary List runs
// @Description Get every recorded pipeline run, newest first
// @Tags runs
// @Produce json
// @Success 200 {object} map[string]interface{} "List of runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns()
	if err != nil {
		h.logger.Error("list runs", zap.Error(err))
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves one run
// @Summary Get run
// @Description Retrieve the status and configuration of a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.RunRecord
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, run)
}

// GetRunLedger retrieves the read-count ledger of a run
// @Summary Get run ledger
// @Description Retrieve every read-count transition recorded for a run
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Ledger entries"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/ledger [get]
func (h *Handler) GetRunLedger(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	entries, err := h.store.GetLedger(run.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve ledger", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"run_id":  run.ID,
		"entries": entries,
		"count":   len(entries),
	})
}

// GetRunProgress retrieves per-stage progress
// @Summary Get run progress
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Stage progress"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/progress [get]
func (h *Handler) GetRunProgress(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	progress, err := h.store.GetStageProgress(run.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve progress", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"run_id":   run.ID,
		"status":   run.Status,
		"progress": progress,
		"count":    len(progress),
	})
}

// GetRunErrors retrieves the failures of a run
// @Summary Get run errors
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Run errors"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id}/errors [get]
func (h *Handler) GetRunErrors(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	runErrors, err := h.store.GetRunErrors(run.ID)
	if err != nil {
		http.Error(w, "Failed to retrieve errors", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"run_id": run.ID,
		"errors": runErrors,
		"count":  len(runErrors),
	})
}

// GetRunArtifacts lists the files in a run's output directory
// @Summary List run artifacts
// @Tags files
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Artifacts"
// @Failure 404 {object} map[string]interface{} "Run or output directory not found"
// @Router /runs/{id}/artifacts [get]
func (h *Handler) GetRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	dir, err := outputDir(run)
	if err != nil {
		http.Error(w, "Invalid run configuration", http.StatusInternalServerError)
		return
	}
	artifacts, err := utils.NewOutputManager(dir).ListArtifacts()
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "Output directory not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to list artifacts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"run_id":     run.ID,
		"output_dir": dir,
		"artifacts":  artifacts,
		"count":      len(artifacts),
	})
}

// GetRunSummary serves the summary written when the run finished
// @Summary Get run summary
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} pipeline.RunReport
// @Failure 404 {object} map[string]interface{} "Run or summary not found"
// @Router /runs/{id}/summary [get]
func (h *Handler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	dir, err := outputDir(run)
	if err != nil {
		http.Error(w, "Invalid run configuration", http.StatusInternalServerError)
		return
	}
	b, err := os.ReadFile(filepath.Join(dir, pipeline.ReportFile))
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "Summary not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to read summary", http.StatusInternalServerError)
		return
	}
	var report pipeline.RunReport
	if err := json.Unmarshal(b, &report); err != nil {
		http.Error(w, "Invalid summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}
