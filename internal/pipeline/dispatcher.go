package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"amplicon-pipeline/internal/model"
)

// errNotStarted marks files a fail-fast batch never started after an earlier failure
var errNotStarted = errors.New("not started: batch already failed")

// FileOp transforms one sample file. It must write only its own outputs.
type FileOp func(ctx context.Context, f model.SampleFile) (model.SampleFile, error)

// Batch is the result of one dispatcher run, in input order
type Batch struct {
	Succeeded []model.SampleFile
	Failed    []model.FileFailure
}

// Dispatcher fans a per-file operation out over a bounded worker pool. A batch
// is a barrier: Run returns only after every started worker has finished.
type Dispatcher struct {
	workers int
	policy  string
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher; workers < 1 means one worker.
func NewDispatcher(workers int, policy string, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if policy == "" {
		policy = model.FailFast
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, policy: policy, logger: logger.Named("dispatch")}
}

// Workers is the pool size
func (d *Dispatcher) Workers() int { return d.workers }

// Run applies op to every file. Under fail-fast any failure is returned as a
// PerFileOperationError once the batch has drained, and files not yet started
// are left alone. Under skip-failed failures are reported in the Batch and the
// error is nil unless every file failed.
func (d *Dispatcher) Run(ctx context.Context, stage string, files []model.SampleFile, op FileOp) (Batch, error) {
	results := make([]model.SampleFile, len(files))
	errs := make([]error, len(files))
	var failed atomic.Bool

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, f := range files {
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		if d.policy == model.FailFast && failed.Load() {
			errs[i] = errNotStarted
			continue
		}
		g.Go(func() error {
			if d.policy == model.FailFast && failed.Load() {
				errs[i] = errNotStarted
				return nil
			}
			out, err := op(ctx, f)
			if err != nil {
				failed.Store(true)
				errs[i] = err
				d.logger.Warn("file failed",
					zap.String("stage", stage),
					zap.String("sample", f.ID),
					zap.Error(err))
				return nil
			}
			results[i] = out
			return nil
		})
	}
	// workers report through errs; Wait is the barrier
	_ = g.Wait()

	var batch Batch
	for i, f := range files {
		if errs[i] != nil {
			batch.Failed = append(batch.Failed, model.FileFailure{ID: f.ID, Err: errs[i]})
			continue
		}
		batch.Succeeded = append(batch.Succeeded, results[i])
	}

	if err := ctx.Err(); err != nil {
		return batch, err
	}
	if len(batch.Failed) == 0 {
		return batch, nil
	}
	if d.policy == model.SkipFailed && len(batch.Succeeded) > 0 {
		d.logger.Warn("continuing without failed files",
			zap.String("stage", stage),
			zap.Int("failed", len(batch.Failed)),
			zap.Int("succeeded", len(batch.Succeeded)))
		return batch, nil
	}
	return batch, &model.PerFileOperationError{Stage: stage, Failures: batch.Failed}
}
