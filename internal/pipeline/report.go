package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/pkg/utils"
)

// Report files written beside the artifacts when a run finishes
const (
	ReportFile       = "run_summary.json"
	StageMetricsFile = "stage_metrics.csv"
)

// RunReport is the JSON summary of a finished run
type RunReport struct {
	ExportInfo ExportInfo           `json:"export_info"`
	Outputs    model.Outputs        `json:"outputs"`
	Ledger     []model.LedgerEntry  `json:"ledger"`
	Stages     []model.StageMetrics `json:"stages"`
}

// ExportInfo describes when and from which run a report was written
type ExportInfo struct {
	RunID       string    `json:"run_id"`
	ExportedAt  time.Time `json:"exported_at"`
	RetainedPct float64   `json:"retained_pct"`
}

// WriteReport writes the run summary as JSON and the stage metrics as CSV
func WriteReport(om *utils.OutputManager, out model.Outputs, ledger []model.LedgerEntry, stages []model.StageMetrics) error {
	report := RunReport{
		ExportInfo: ExportInfo{
			RunID:       out.RunID,
			ExportedAt:  time.Now().UTC(),
			RetainedPct: utils.Percent(out.ClassifiedRead, out.InputReads),
		},
		Outputs: out,
		Ledger:  ledger,
		Stages:  stages,
	}
	if err := writeJSON(om.Path(ReportFile), report); err != nil {
		return fmt.Errorf("write %s: %w", ReportFile, err)
	}
	if err := writeStageCSV(om.Path(StageMetricsFile), stages); err != nil {
		return fmt.Errorf("write %s: %w", StageMetricsFile, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeStageCSV(path string, stages []model.StageMetrics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	header := []string{"stage", "status", "started_at", "duration_seconds", "files", "failed", "workers", "detail"}
	if err := writer.Write(header); err != nil {
		file.Close()
		return err
	}
	for _, m := range stages {
		row := []string{
			m.Stage,
			m.Status,
			m.StartTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(m.Duration.Seconds(), 'f', 3, 64),
			strconv.Itoa(m.Files),
			strconv.Itoa(m.Failed),
			strconv.Itoa(m.Workers),
			m.Detail,
		}
		if err := writer.Write(row); err != nil {
			file.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
