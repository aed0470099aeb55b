package model

import "time"

// Run statuses stored for each pipeline run
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Stage statuses
const (
	StageStarted   = "started"
	StageCompleted = "completed"
	StageSkipped   = "skipped"
	StageFailed    = "failed"
)

// LedgerEntry is one read-count transition across a stage boundary
type LedgerEntry struct {
	Seq       int       `json:"seq"`
	Stage     string    `json:"stage"`
	Before    int64     `json:"before"`
	After     int64     `json:"after"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	Absolute  bool      `json:"absolute"`
	Timestamp time.Time `json:"timestamp"`
}

// StageMetrics tracks timing and file counts for one stage of a run
type StageMetrics struct {
	Stage     string        `json:"stage"`
	Status    string        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Files     int           `json:"files"`
	Failed    int           `json:"failed"`
	Workers   int           `json:"workers"`
	Detail    string        `json:"detail,omitempty"`
}

// RunRecord is the stored summary of one pipeline run
type RunRecord struct {
	ID         string     `json:"id"`
	Config     string     `json:"config"`
	Status     string     `json:"status"`
	Resumed    bool       `json:"resumed"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunError is a stored failure diagnostic
type RunError struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// PipelineState is the explicit progress record written next to the artifacts
type PipelineState struct {
	Version   int                 `json:"version"`
	RunID     string              `json:"run_id"`
	Completed []string            `json:"completed"`
	Manifest  map[string][]string `json:"manifest"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// HasCompleted reports whether stage is recorded as completed
func (s *PipelineState) HasCompleted(stage string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.Completed {
		if c == stage {
			return true
		}
	}
	return false
}
