package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
)

// RunStore is the persistence the orchestrator reports to. *store.Store
// satisfies it; a nil RunStore disables persistence.
type RunStore interface {
	SaveRun(runID string, cfg model.PipelineConfig, resumed bool) error
	UpdateRunStatus(runID, status string) error
	SaveStageProgress(runID string, m model.StageMetrics) error
	SaveLedgerEntry(runID string, e model.LedgerEntry) error
	SaveRunError(runID, stage string, err error) error
}

// PipelineTracker keeps per-stage metrics for one run and mirrors them to
// the run store. Store failures are logged and never fail the run.
type PipelineTracker struct {
	RunID string

	mu     sync.RWMutex
	start  time.Time
	stages map[string]*model.StageMetrics
	order  []string
	store  RunStore
	logger *zap.Logger
	now    func() time.Time
}

// NewPipelineTracker creates a tracker; store may be nil
func NewPipelineTracker(runID string, store RunStore, logger *zap.Logger) *PipelineTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineTracker{
		RunID:  runID,
		start:  time.Now(),
		stages: make(map[string]*model.StageMetrics),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// StartStage marks the start of a pipeline stage
func (pt *PipelineTracker) StartStage(stage string, workers int) {
	pt.mu.Lock()
	m := &model.StageMetrics{Stage: stage, Status: model.StageStarted, StartTime: pt.now(), Workers: workers}
	if _, ok := pt.stages[stage]; !ok {
		pt.order = append(pt.order, stage)
	}
	pt.stages[stage] = m
	snapshot := *m
	pt.mu.Unlock()

	pt.logger.Info("stage started", zap.String("stage", stage), zap.Int("workers", workers))
	pt.persist(snapshot)
}

// EndStage marks a stage completed with the number of files it produced
func (pt *PipelineTracker) EndStage(stage string, files, failed int, detail string) {
	snapshot := pt.finish(stage, model.StageCompleted, files, failed, detail)
	pt.logger.Info("stage completed",
		zap.String("stage", stage),
		zap.Duration("duration", snapshot.Duration),
		zap.Int("files", files),
		zap.Int("failed", failed))
	pt.persist(snapshot)
}

// SkipStage records a stage whose outputs already existed
func (pt *PipelineTracker) SkipStage(stage, detail string) {
	pt.mu.Lock()
	if _, ok := pt.stages[stage]; !ok {
		pt.order = append(pt.order, stage)
	}
	now := pt.now()
	m := &model.StageMetrics{Stage: stage, Status: model.StageSkipped, StartTime: now, EndTime: &now, Detail: detail}
	pt.stages[stage] = m
	snapshot := *m
	pt.mu.Unlock()

	pt.logger.Info("stage skipped", zap.String("stage", stage), zap.String("reason", detail))
	pt.persist(snapshot)
}

// FailStage marks a stage failed and stores the error
func (pt *PipelineTracker) FailStage(stage string, err error) {
	snapshot := pt.finish(stage, model.StageFailed, 0, 0, err.Error())
	pt.logger.Error("stage failed", zap.String("stage", stage), zap.Error(err))
	pt.persist(snapshot)
	if pt.store != nil {
		if serr := pt.store.SaveRunError(pt.RunID, stage, err); serr != nil {
			pt.logger.Warn("store run error", zap.Error(serr))
		}
	}
}

func (pt *PipelineTracker) finish(stage, status string, files, failed int, detail string) model.StageMetrics {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	m, ok := pt.stages[stage]
	if !ok {
		m = &model.StageMetrics{Stage: stage, StartTime: pt.now()}
		pt.stages[stage] = m
		pt.order = append(pt.order, stage)
	}
	now := pt.now()
	m.EndTime = &now
	m.Duration = now.Sub(m.StartTime)
	m.Status = status
	m.Files = files
	m.Failed = failed
	m.Detail = detail
	return *m
}

func (pt *PipelineTracker) persist(m model.StageMetrics) {
	if pt.store == nil {
		return
	}
	if err := pt.store.SaveStageProgress(pt.RunID, m); err != nil {
		pt.logger.Warn("store stage progress", zap.String("stage", m.Stage), zap.Error(err))
	}
}

// GetMetrics returns the stage metrics in the order stages were seen
func (pt *PipelineTracker) GetMetrics() []model.StageMetrics {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]model.StageMetrics, 0, len(pt.order))
	for _, name := range pt.order {
		out = append(out, *pt.stages[name])
	}
	return out
}

// Elapsed is the time since the tracker was created
func (pt *PipelineTracker) Elapsed() time.Duration {
	return pt.now().Sub(pt.start)
}
