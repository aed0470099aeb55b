package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/internal/seqio"
	"amplicon-pipeline/internal/tool"
	"amplicon-pipeline/pkg/utils"
)

// Orchestrator drives the fixed stage sequence for one resolved configuration.
type Orchestrator struct {
	cfg     model.PipelineConfig
	invoker tool.Invoker
	store   RunStore
	logger  *zap.Logger
	runID   string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStore mirrors run progress, ledger entries and errors to a run store
func WithStore(s RunStore) Option { return func(o *Orchestrator) { o.store = s } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithRunID fixes the run id instead of generating one
func WithRunID(id string) Option { return func(o *Orchestrator) { o.runID = id } }

// New builds an Orchestrator. cfg must already be resolved.
func New(cfg model.PipelineConfig, invoker tool.Invoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, invoker: invoker, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	return o
}

// RunID identifies this run in the store and the state record
func (o *Orchestrator) RunID() string { return o.runID }

// Run executes the pipeline. Stages whose outputs already exist are skipped;
// when the oriented feature table is present the run resumes at Classify.
// The first stage failure aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (out model.Outputs, err error) {
	start := time.Now()
	logger := o.logger.With(zap.String("run_id", o.runID))
	om := utils.NewOutputManager(o.cfg.OutputDir)
	if err := om.EnsureOutputDirExists(); err != nil {
		return out, err
	}

	fileSink, err := OpenFileSink(om.Path(LedgerFile), o.runID)
	if err != nil {
		return out, err
	}
	defer fileSink.Close()

	ledger := NewLedger(logger, fileSink)
	tracker := NewPipelineTracker(o.runID, o.store, logger)
	dispatcher := NewDispatcher(o.cfg.Threads, o.cfg.FailurePolicy, logger)
	rc := &runContext{
		cfg:        o.cfg,
		out:        om,
		invoker:    o.invoker,
		dispatcher: dispatcher,
		triager:    NewTriager(o.cfg, o.invoker, dispatcher, ledger, logger),
		ledger:     ledger,
		logger:     logger,
	}
	stages := rc.stages()

	state, err := LoadState(o.cfg.OutputDir)
	if err != nil {
		logger.Warn("ignoring unreadable state record", zap.Error(err))
		state = nil
	}
	startIdx, resumed := resumeIndex(state, stages)
	if state == nil {
		state = &model.PipelineState{}
	}
	state.RunID = o.runID
	rc.resumed = resumed

	if o.store != nil {
		if serr := o.store.SaveRun(o.runID, o.cfg, resumed); serr != nil {
			logger.Warn("store run", zap.Error(serr))
		} else {
			ledger.AddSink(storeSink{runID: o.runID, store: o.store, logger: logger})
		}
	}
	o.logParameters(logger, resumed, startIdx, stages)

	current := ""
	defer func() {
		status := model.StatusCompleted
		if err != nil {
			status = model.StatusFailed
			logger.Error("pipeline failed",
				zap.String("stage", current),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
		}
		if o.store != nil {
			if serr := o.store.UpdateRunStatus(o.runID, status); serr != nil {
				logger.Warn("store run status", zap.Error(serr))
			}
		}
	}()

	if resumed {
		n, err := seqio.CountArtifact(om.Path(FileOriented))
		if err != nil {
			return out, fmt.Errorf("inspect checkpoint: %w", err)
		}
		rc.classifyInput = n
		// a finished run has no boundary left to account for
		if startIdx < len(stages) {
			boundary := stages[startIdx].Name
			if err := ledger.RecordAbsolute(boundary, n, "resumed from oriented feature table"); err != nil {
				return out, err
			}
			logger.Info("resuming from checkpoint",
				zap.String("stage", boundary),
				zap.Int64("reads", n))
		} else {
			logger.Info("all stages already completed", zap.Int64("classification_input", n))
		}
	}

	for i, st := range stages {
		current = st.Name
		if i < startIdx {
			tracker.SkipStage(st.Name, "before resume point")
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if allExist(st.Outputs) {
			tracker.SkipStage(st.Name, "outputs already present")
			markCompleted(state, st.Name, st.Outputs)
			continue
		}
		for _, in := range st.Inputs {
			if _, serr := os.Stat(in); serr != nil {
				err = &model.StagePreconditionError{Stage: st.Name, Path: in}
				tracker.FailStage(st.Name, err)
				return out, err
			}
		}

		tracker.StartStage(st.Name, st.Workers)
		report, rerr := st.Run(ctx)
		if rerr != nil {
			tracker.FailStage(st.Name, rerr)
			return out, fmt.Errorf("stage %s: %w", st.Name, rerr)
		}
		for _, p := range st.Outputs {
			if _, serr := os.Stat(p); serr != nil {
				err = &model.StagePostconditionError{Stage: st.Name, Path: p}
				tracker.FailStage(st.Name, err)
				return out, err
			}
		}
		if !o.cfg.KeepIntermediates {
			o.reclaim(logger, st)
		}
		tracker.EndStage(st.Name, report.Files, report.Failed, report.Detail)

		markCompleted(state, st.Name, st.Outputs)
		if serr := SaveState(o.cfg.OutputDir, state); serr != nil {
			return out, fmt.Errorf("save state record: %w", serr)
		}
	}
	current = ""
	if err := SaveState(o.cfg.OutputDir, state); err != nil {
		return out, fmt.Errorf("save state record: %w", err)
	}

	out, err = o.summarize(rc, time.Since(start))
	if err != nil {
		return out, err
	}
	out.Resumed = resumed
	if rerr := WriteReport(om, out, ledger.Entries(), tracker.GetMetrics()); rerr != nil {
		logger.Warn("run report", zap.Error(rerr))
	}
	logger.Info("pipeline finished",
		zap.Int64("input_reads", out.InputReads),
		zap.Int64("classification_input", out.ClassifyInput),
		zap.Int64("classified_reads", out.ClassifiedRead),
		zap.Int("taxa", out.Taxa),
		zap.Float64("retained_pct", utils.Percent(out.ClassifiedRead, out.InputReads)),
		zap.Duration("elapsed", out.Duration))
	return out, nil
}

// summarize builds the outputs from the exported table and the ledger
func (o *Orchestrator) summarize(rc *runContext, elapsed time.Duration) (model.Outputs, error) {
	out := model.Outputs{
		RunID:        o.runID,
		TablePath:    rc.exportedTable(),
		TaxonomyPath: rc.exportedTaxonomy(),
		InputReads:   rc.ledger.Input(),
		Duration:     elapsed,
	}
	summary, err := seqio.SummarizeTable(rc.exportedTable())
	if err != nil {
		return out, err
	}
	out.ClassifiedRead = summary.Total
	out.Taxa = summary.Features
	out.ClassifyInput = rc.classifyInput
	if out.ClassifyInput == 0 {
		if n, err := seqio.CountArtifact(rc.path(FileOriented)); err == nil {
			out.ClassifyInput = n
		}
	}
	if len(rc.ledger.Entries()) == 0 {
		out.InputReads = out.ClassifyInput
	}
	return out, nil
}

// reclaim deletes a completed stage's superseded inputs. Failures only warn:
// the outputs are already safe.
func (o *Orchestrator) reclaim(logger *zap.Logger, st Stage) {
	for _, p := range st.Reclaim {
		if err := os.RemoveAll(p); err != nil {
			logger.Warn("reclaim", zap.String("stage", st.Name), zap.String("path", p), zap.Error(err))
			continue
		}
		logger.Debug("reclaimed", zap.String("stage", st.Name), zap.String("path", p))
	}
}

func (o *Orchestrator) logParameters(logger *zap.Logger, resumed bool, startIdx int, stages []Stage) {
	c := o.cfg
	first := "done"
	if startIdx < len(stages) {
		first = stages[startIdx].Name
	}
	logger.Info("run parameters",
		zap.String("input_dir", c.InputDir),
		zap.Bool("pre_demultiplexed", c.PreDemultiplexed),
		zap.String("output_dir", c.OutputDir),
		zap.String("primer_file", c.PrimerFile),
		zap.String("reference_seqs", c.ReferenceSeqs),
		zap.String("reference_taxonomy", c.ReferenceTaxonomy),
		zap.String("classifier", c.Classifier),
		zap.String("classification_method", c.ClassifyMethod),
		zap.Int("quality", c.Quality),
		zap.Int("min_length", c.MinLength),
		zap.Int("max_length", c.MaxLength),
		zap.Int("threads", c.Threads),
		zap.Int64("min_reads", c.MinReads),
		zap.Int64("subsample_threshold", c.SubsampleThreshold),
		zap.Int64("subsample_seed", c.SubsampleSeed),
		zap.Int64("min_frequency", c.MinFrequency),
		zap.Int("taxonomy_level", c.TaxonomyLevel),
		zap.String("failure_policy", c.FailurePolicy),
		zap.Bool("keep_intermediates", c.KeepIntermediates),
		zap.Duration("tool_timeout", c.ToolTimeout),
		zap.Bool("resumed", resumed),
		zap.String("first_stage", first))
}
