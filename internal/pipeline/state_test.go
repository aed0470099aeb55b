package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplicon-pipeline/internal/model"
)

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadState(dir)
	require.NoError(t, err)
	assert.Nil(t, st)

	st = &model.PipelineState{RunID: "r1"}
	markCompleted(st, StageTrim, []string{filepath.Join(dir, DirTrimmed)})
	markCompleted(st, StageTrim, []string{filepath.Join(dir, DirTrimmed)})
	require.NoError(t, SaveState(dir, st))

	got, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{StageTrim}, got.Completed)
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, 1, got.Version)

	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFile), []byte("{"), 0o644))
	_, err = LoadState(dir)
	assert.Error(t, err)
}

func stageSet(dir string) []Stage {
	var out []Stage
	for _, name := range []string{StageTrim, StageFilter, StageReorient, StageClassify, StageExport} {
		out = append(out, Stage{Name: name, Outputs: []string{filepath.Join(dir, name+".out")}})
	}
	return out
}

func touchOutputs(t *testing.T, stages []Stage, names ...string) {
	t.Helper()
	for _, s := range stages {
		for _, n := range names {
			if s.Name == n {
				require.NoError(t, touch(s.Outputs[0]))
			}
		}
	}
}

func TestResumeIndex(t *testing.T) {
	t.Run("fresh directory", func(t *testing.T) {
		idx, resumed := resumeIndex(nil, stageSet(t.TempDir()))
		assert.Zero(t, idx)
		assert.False(t, resumed)
	})

	t.Run("completed stages with outputs", func(t *testing.T) {
		stages := stageSet(t.TempDir())
		touchOutputs(t, stages, StageTrim, StageFilter)
		st := &model.PipelineState{Completed: []string{StageTrim, StageFilter}}
		idx, resumed := resumeIndex(st, stages)
		assert.Equal(t, 2, idx)
		assert.False(t, resumed)
	})

	t.Run("reclaimed outputs do not block later stages", func(t *testing.T) {
		stages := stageSet(t.TempDir())
		touchOutputs(t, stages, StageFilter)
		st := &model.PipelineState{Completed: []string{StageTrim, StageFilter}}
		idx, _ := resumeIndex(st, stages)
		assert.Equal(t, 2, idx)
	})

	t.Run("checkpoint without a record", func(t *testing.T) {
		stages := stageSet(t.TempDir())
		touchOutputs(t, stages, StageReorient)
		idx, resumed := resumeIndex(nil, stages)
		assert.Equal(t, 3, idx)
		assert.True(t, resumed)
	})

	t.Run("record ahead of checkpoint", func(t *testing.T) {
		stages := stageSet(t.TempDir())
		touchOutputs(t, stages, StageReorient, StageClassify)
		st := &model.PipelineState{Completed: []string{StageTrim, StageFilter, StageReorient, StageClassify}}
		idx, resumed := resumeIndex(st, stages)
		assert.Equal(t, 4, idx)
		assert.True(t, resumed)
	})
}
