package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
	"amplicon-pipeline/internal/seqio"
	"amplicon-pipeline/internal/tool"
)

// Triage actions
const (
	ActionKeep      = "keep"
	ActionDrop      = "drop"
	ActionSubsample = "subsample"
)

// Triage reasons
const (
	ReasonZeroReads    = "zero reads"
	ReasonBelowMinimum = "below minimum"
	ReasonSubsampled   = "subsampled"
	ReasonFailed       = "subsampling failed"
)

// Decide applies the triage rule to one read count, in priority order:
// empty, below the minimum, above the subsample threshold, otherwise keep.
func Decide(count, minReads, threshold int64) (action, reason string) {
	switch {
	case count == 0:
		return ActionDrop, ReasonZeroReads
	case count < minReads:
		return ActionDrop, ReasonBelowMinimum
	case count > threshold:
		return ActionSubsample, ReasonSubsampled
	}
	return ActionKeep, ""
}

// Dropped is a file removed by triage
type Dropped struct {
	File   model.SampleFile
	Reason string
}

// TriageResult partitions the input files
type TriageResult struct {
	Kept       []model.SampleFile
	Subsampled []model.SampleFile
	Dropped    []Dropped
	// Before is the read total entering triage
	Before int64
}

// Files returns the files that continue downstream, sorted by sample id
func (r TriageResult) Files() []model.SampleFile {
	out := append(append([]model.SampleFile{}, r.Kept...), r.Subsampled...)
	sortFiles(out)
	return out
}

// After is the read total leaving triage
func (r TriageResult) After() int64 {
	var n int64
	for _, f := range r.Files() {
		n += f.Count
	}
	return n
}

// Triager decides keep/drop/subsample per file and records the aggregate to the ledger.
type Triager struct {
	MinReads  int64
	Threshold int64
	Seed      int64
	// RemoveOriginals deletes the source of dropped and subsampled files
	RemoveOriginals bool

	invoker    tool.Invoker
	dispatcher *Dispatcher
	ledger     *Ledger
	logger     *zap.Logger
}

// NewTriager builds a Triager from the resolved configuration
func NewTriager(cfg model.PipelineConfig, invoker tool.Invoker, d *Dispatcher, ledger *Ledger, logger *zap.Logger) *Triager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Triager{
		MinReads:        cfg.MinReads,
		Threshold:       cfg.SubsampleThreshold,
		Seed:            cfg.SubsampleSeed,
		RemoveOriginals: !cfg.KeepIntermediates,
		invoker:         invoker,
		dispatcher:      d,
		ledger:          ledger,
		logger:          logger.Named("triage"),
	}
}

// Triage partitions files, writing kept and subsampled files into outDir.
// Kept files are hard-linked (or copied) so the inputs stay intact until the
// orchestrator reclaims them.
func (t *Triager) Triage(ctx context.Context, files []model.SampleFile, outDir string) (TriageResult, error) {
	var (
		res       TriageResult
		toReduce  []model.SampleFile
		originals []string
	)
	for _, f := range files {
		res.Before += f.Count
		action, reason := Decide(f.Count, t.MinReads, t.Threshold)
		switch action {
		case ActionDrop:
			res.Dropped = append(res.Dropped, Dropped{File: f, Reason: reason})
			originals = append(originals, f.Path)
			t.logger.Info("dropping sample",
				zap.String("sample", f.ID),
				zap.Int64("reads", f.Count),
				zap.String("reason", reason))
		case ActionSubsample:
			toReduce = append(toReduce, f)
		default:
			dst := filepath.Join(outDir, filepath.Base(f.Path))
			if err := linkOrCopy(f.Path, dst); err != nil {
				return res, fmt.Errorf("triage %s: %w", f.ID, err)
			}
			kept := f
			kept.Path = dst
			kept.Stage = StageTriage
			res.Kept = append(res.Kept, kept)
		}
	}

	if len(toReduce) > 0 {
		batch, err := t.dispatcher.Run(ctx, StageTriage, toReduce, func(ctx context.Context, f model.SampleFile) (model.SampleFile, error) {
			return t.subsample(ctx, f, outDir)
		})
		if err != nil {
			return res, err
		}
		source := make(map[string]model.SampleFile, len(toReduce))
		for _, f := range toReduce {
			source[f.ID] = f
		}
		res.Subsampled = batch.Succeeded
		for _, f := range batch.Succeeded {
			originals = append(originals, source[f.ID].Path)
			t.logger.Info("subsampled sample",
				zap.String("sample", f.ID),
				zap.Int64("from", source[f.ID].Count),
				zap.Int64("reads", f.Count))
		}
		for _, ff := range batch.Failed {
			res.Dropped = append(res.Dropped, Dropped{File: source[ff.ID], Reason: ReasonFailed})
		}
	}

	if t.RemoveOriginals {
		for _, p := range originals {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return res, fmt.Errorf("remove %s: %w", p, err)
			}
		}
	}

	if t.ledger != nil {
		reason := fmt.Sprintf("dropped %d, subsampled %d, kept %d", len(res.Dropped), len(res.Subsampled), len(res.Kept))
		if err := t.ledger.Record(StageTriage, res.Before, res.After(), reason); err != nil {
			return res, err
		}
	}
	return res, nil
}

// subsample reduces f to exactly Threshold reads with a pinned seed
func (t *Triager) subsample(ctx context.Context, f model.SampleFile, outDir string) (model.SampleFile, error) {
	dst := filepath.Join(outDir, filepath.Base(f.Path))
	err := t.invoker.Invoke(ctx, tool.Invocation{
		Stage:    StageTriage,
		Tool:     "seqtk",
		Class:    model.ClassReads,
		Args:     []string{"sample", "-s", strconv.FormatInt(t.Seed, 10), f.Path, strconv.FormatInt(t.Threshold, 10)},
		Inputs:   []string{f.Path},
		Outputs:  []string{dst},
		StdoutTo: dst,
		Verify: func(outs []string) error {
			n, err := seqio.CountRecords(outs[0])
			if err != nil {
				return err
			}
			if n != t.Threshold {
				return fmt.Errorf("expected %d reads after subsampling, found %d", t.Threshold, n)
			}
			return nil
		},
	})
	if err != nil {
		return f, err
	}
	out := f
	out.Path = dst
	out.Count = t.Threshold
	out.Stage = StageTriage
	return out, nil
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
