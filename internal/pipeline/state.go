package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"amplicon-pipeline/internal/model"
)

// StateFile is the progress record kept beside the artifacts
const StateFile = ".pipeline_state.json"

const stateVersion = 1

// LoadState reads the progress record from dir. A missing record returns nil
// with no error; progress is then inferred from the artifacts alone.
func LoadState(dir string) (*model.PipelineState, error) {
	b, err := os.ReadFile(filepath.Join(dir, StateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st model.PipelineState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", StateFile, err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", StateFile, st.Version)
	}
	return &st, nil
}

// SaveState writes the progress record atomically: a temp file in the same
// directory is synced and renamed over the previous record.
func SaveState(dir string, st *model.PipelineState) error {
	st.Version = stateVersion
	st.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, StateFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, StateFile))
}

// markCompleted records stage and its outputs in st
func markCompleted(st *model.PipelineState, stage string, outputs []string) {
	if !st.HasCompleted(stage) {
		st.Completed = append(st.Completed, stage)
	}
	if st.Manifest == nil {
		st.Manifest = make(map[string][]string)
	}
	st.Manifest[stage] = outputs
}

// resumeIndex returns the index of the first stage to run. Stages count as
// done while the record marks them completed and their outputs still exist;
// the coarse checkpoint, when present on disk, never lets the run start
// before Classify.
func resumeIndex(st *model.PipelineState, stages []Stage) (int, bool) {
	idx := 0
	for i, s := range stages {
		if !st.HasCompleted(s.Name) {
			break
		}
		if allExist(s.Outputs) {
			idx = i + 1
		}
	}
	classify := stageIndex(stages, StageClassify)
	if checkpointReached(stages) && idx < classify {
		idx = classify
	}
	return idx, idx >= classify && classify >= 0
}

// checkpointReached reports whether the oriented feature table and its
// sequences exist, which is all Classify and later stages need.
func checkpointReached(stages []Stage) bool {
	i := stageIndex(stages, StageReorient)
	return i >= 0 && allExist(stages[i].Outputs)
}

func stageIndex(stages []Stage, name string) int {
	for i, s := range stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func allExist(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
