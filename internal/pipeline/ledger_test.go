package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
)

func TestLedgerRecord(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.RecordAbsolute(StageDemultiplex, 1000, "demultiplexed"))
	require.NoError(t, l.Record(StageTrim, 1000, 900, "primer not found"))
	require.NoError(t, l.Record(StageFilter, 900, 900, "nothing filtered"))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, 2, entries[1].Seq)
	assert.EqualValues(t, 100, entries[1].Delta)
	assert.Zero(t, entries[2].Delta)
	assert.True(t, entries[0].Absolute)
	assert.EqualValues(t, 1000, l.Input())
	assert.EqualValues(t, 900, l.Current())
}

func TestLedgerRejectsGrowth(t *testing.T) {
	tests := []struct {
		name          string
		before, after int64
	}{
		{"after exceeds before", 10, 11},
		{"negative", -1, -1},
		{"above previous entry", 600, 550},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(nil)
			require.NoError(t, l.Record(StageTrim, 1000, 500, "primer not found"))

			err := l.Record(StageFilter, tt.before, tt.after, "x")
			var lerr *model.LedgerInvariantError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, StageFilter, lerr.Stage)
			assert.Len(t, l.Entries(), 1)
		})
	}
}

type failingSink struct{}

func (failingSink) Append(model.LedgerEntry) error { return os.ErrClosed }

func TestLedgerSinkError(t *testing.T) {
	l := NewLedger(nil, failingSink{})
	err := l.Record(StageTrim, 10, 9, "x")
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestStoreSinkFailureIsNotFatal(t *testing.T) {
	st := &lockedStore{}
	l := NewLedger(nil, storeSink{runID: "r1", store: st, logger: zap.NewNop()})
	require.NoError(t, l.Record(StageTrim, 10, 9, "x"))
	require.NoError(t, l.Record(StageFilter, 9, 8, "y"))
	assert.Len(t, l.Entries(), 2)
	assert.Equal(t, 2, st.ledgerCalls())
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), LedgerFile)

	sink, err := OpenFileSink(path, "run-a")
	require.NoError(t, err)
	l := NewLedger(nil, sink)
	require.NoError(t, l.RecordAbsolute(StageDemultiplex, 50, "demultiplexed"))
	require.NoError(t, l.Record(StageTrim, 50, 40, "primer not found"))
	require.NoError(t, sink.Close())

	// a second run appends below the existing lines without a new header
	sink, err = OpenFileSink(path, "run-b")
	require.NoError(t, err)
	l = NewLedger(nil, sink)
	require.NoError(t, l.RecordAbsolute(StageClassify, 30, "resumed"))
	require.NoError(t, sink.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp\trun_id\tstage\tbefore\tafter\tdelta\treason", lines[0])
	assert.True(t, strings.HasSuffix(lines[2], "\trun-a\ttrim\t50\t40\t10\tprimer not found"), lines[2])
	assert.Contains(t, lines[3], "\trun-b\tclassify\t")
	assert.Contains(t, lines[3], "absolute: resumed")
}
