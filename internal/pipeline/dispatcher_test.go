package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"amplicon-pipeline/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func samples(n int) []model.SampleFile {
	out := make([]model.SampleFile, n)
	for i := range out {
		out[i] = model.SampleFile{ID: fmt.Sprintf("barcode%02d", i+1), Count: int64(i + 1)}
	}
	return out
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	d := NewDispatcher(3, model.FailFast, nil)
	var inFlight, peak atomic.Int32

	batch, err := d.Run(context.Background(), StageTrim, samples(12), func(_ context.Context, f model.SampleFile) (model.SampleFile, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		f.Stage = StageTrim
		return f, nil
	})
	require.NoError(t, err)
	assert.Len(t, batch.Succeeded, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Zero(t, inFlight.Load())
}

func TestDispatcherKeepsInputOrder(t *testing.T) {
	d := NewDispatcher(4, model.FailFast, nil)
	in := samples(8)
	batch, err := d.Run(context.Background(), StageTrim, in, func(_ context.Context, f model.SampleFile) (model.SampleFile, error) {
		time.Sleep(time.Duration(10-f.Count) * time.Millisecond)
		return f, nil
	})
	require.NoError(t, err)
	require.Len(t, batch.Succeeded, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, batch.Succeeded[i].ID)
	}
}

func TestDispatcherFailFast(t *testing.T) {
	d := NewDispatcher(1, model.FailFast, nil)
	var calls atomic.Int32
	boom := errors.New("tool exploded")

	batch, err := d.Run(context.Background(), StageFilter, samples(5), func(_ context.Context, f model.SampleFile) (model.SampleFile, error) {
		calls.Add(1)
		if f.ID == "barcode02" {
			return f, boom
		}
		return f, nil
	})
	var perr *model.PerFileOperationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageFilter, perr.Stage)
	assert.ErrorIs(t, err, boom)
	// one worker: nothing after the failing file is started
	assert.EqualValues(t, 2, calls.Load())
	assert.Len(t, batch.Succeeded, 1)
	assert.Len(t, batch.Failed, 4)
}

func TestDispatcherSkipFailed(t *testing.T) {
	d := NewDispatcher(2, model.SkipFailed, nil)
	batch, err := d.Run(context.Background(), StageTrim, samples(3), func(_ context.Context, f model.SampleFile) (model.SampleFile, error) {
		if f.ID == "barcode02" {
			return f, errors.New("no primer")
		}
		return f, nil
	})
	require.NoError(t, err)
	assert.Len(t, batch.Succeeded, 2)
	require.Len(t, batch.Failed, 1)
	assert.Equal(t, "barcode02", batch.Failed[0].ID)
}

func TestDispatcherSkipFailedAllFail(t *testing.T) {
	d := NewDispatcher(2, model.SkipFailed, nil)
	_, err := d.Run(context.Background(), StageTrim, samples(2), func(_ context.Context, f model.SampleFile) (model.SampleFile, error) {
		return f, errors.New("no primer")
	})
	var perr *model.PerFileOperationError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, perr.Failures, 2)
}

func TestDispatcherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(1, model.SkipFailed, nil)
	_, err := d.Run(ctx, StageTrim, samples(4), func(ctx context.Context, f model.SampleFile) (model.SampleFile, error) {
		cancel()
		return f, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
