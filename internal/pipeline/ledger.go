package pipeline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
)

// LedgerFile is the name of the tab-separated ledger inside the output directory
const LedgerFile = "read_ledger.tsv"

// LedgerSink receives every ledger entry as soon as it is recorded
type LedgerSink interface {
	Append(e model.LedgerEntry) error
}

// Ledger is the append-only record of read counts across stage boundaries.
// Counts never grow: every entry has After <= Before and After never exceeds
// the previous entry's After.
type Ledger struct {
	mu      sync.Mutex
	entries []model.LedgerEntry
	sinks   []LedgerSink
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger builds a ledger writing to the given sinks
func NewLedger(logger *zap.Logger, sinks ...LedgerSink) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{sinks: sinks, logger: logger.Named("ledger"), now: time.Now}
}

// AddSink attaches another sink; entries already recorded are not replayed
func (l *Ledger) AddSink(s LedgerSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Record appends the transition of stage from before to after reads.
func (l *Ledger) Record(stage string, before, after int64, reason string) error {
	return l.append(model.LedgerEntry{Stage: stage, Before: before, After: after, Reason: reason})
}

// RecordAbsolute appends a count whose predecessor is unknown, as at the
// resume boundary where upstream stages did not run in this process.
func (l *Ledger) RecordAbsolute(stage string, count int64, reason string) error {
	return l.append(model.LedgerEntry{Stage: stage, Before: count, After: count, Reason: reason, Absolute: true})
}

func (l *Ledger) append(e model.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Before < 0 || e.After < 0 {
		return &model.LedgerInvariantError{Stage: e.Stage, Before: e.Before, After: e.After, Reason: "negative read count"}
	}
	if e.After > e.Before {
		return &model.LedgerInvariantError{Stage: e.Stage, Before: e.Before, After: e.After, Reason: "stage reports more reads than it received"}
	}
	if n := len(l.entries); n > 0 && e.After > l.entries[n-1].After {
		return &model.LedgerInvariantError{Stage: e.Stage, Before: e.Before, After: e.After,
			Reason: fmt.Sprintf("count rose above %d recorded by %s", l.entries[n-1].After, l.entries[n-1].Stage)}
	}

	e.Seq = len(l.entries) + 1
	e.Delta = e.Before - e.After
	e.Timestamp = l.now()
	l.entries = append(l.entries, e)

	l.logger.Info("read count",
		zap.String("stage", e.Stage),
		zap.Int64("before", e.Before),
		zap.Int64("after", e.After),
		zap.Int64("delta", e.Delta),
		zap.String("reason", e.Reason),
		zap.Bool("absolute", e.Absolute))

	for _, s := range l.sinks {
		if err := s.Append(e); err != nil {
			return fmt.Errorf("persist ledger entry %d (%s): %w", e.Seq, e.Stage, err)
		}
	}
	return nil
}

// Entries returns a copy of the recorded entries
func (l *Ledger) Entries() []model.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Input is the read count the ledger started from
func (l *Ledger) Input() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[0].Before
}

// Current is the most recent After count
func (l *Ledger) Current() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].After
}

// FileSink appends entries to a TSV file and syncs after each one so the
// ledger survives a later fatal abort.
// The file is shared by every run over the same output directory, so each
// line carries the run id.
type FileSink struct {
	mu    sync.Mutex
	f     *os.File
	runID string
}

// OpenFileSink opens (or creates) the ledger file at path in append mode
func OpenFileSink(path, runID string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if _, err := f.WriteString("timestamp\trun_id\tstage\tbefore\tafter\tdelta\treason\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileSink{f: f, runID: runID}, nil
}

// Append writes one line and syncs it
func (s *FileSink) Append(e model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason := e.Reason
	if e.Absolute {
		reason = "absolute: " + reason
	}
	if _, err := fmt.Fprintf(s.f, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
		e.Timestamp.Format(time.RFC3339), s.runID, e.Stage, e.Before, e.After, e.Delta, reason); err != nil {
		return err
	}
	return s.f.Sync()
}

// Close closes the ledger file
func (s *FileSink) Close() error { return s.f.Close() }

// storeSink mirrors entries to the run store. The TSV file is the ledger of
// record, so a store failure is logged and never fails the run.
type storeSink struct {
	runID  string
	store  RunStore
	logger *zap.Logger
}

func (s storeSink) Append(e model.LedgerEntry) error {
	if err := s.store.SaveLedgerEntry(s.runID, e); err != nil {
		s.logger.Warn("store ledger entry",
			zap.Int("seq", e.Seq),
			zap.String("stage", e.Stage),
			zap.Error(err))
	}
	return nil
}
