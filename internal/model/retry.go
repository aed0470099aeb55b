package model

import "time"

// RetryConfig defines retry behavior for one class of external tool
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	// RetryableErrors are stderr fragments that mark a failure as transient
	RetryableErrors []string `json:"retryable_errors" yaml:"retryable_errors"`
	// NonRetryableErrors win over RetryableErrors when both match
	NonRetryableErrors []string `json:"non_retryable_errors" yaml:"non_retryable_errors"`
}

// Tool classes used to select a retry policy
const (
	ClassBasecall = "basecall"
	ClassReads    = "reads"
	ClassArtifact = "artifact"
	ClassClassify = "classify"
)

// DefaultRetryConfigs holds the retry policy for each tool class
var DefaultRetryConfigs = map[string]RetryConfig{
	ClassBasecall: {
		MaxAttempts:        2,
		InitialDelay:       5 * time.Second,
		MaxDelay:           30 * time.Second,
		BackoffMultiplier:  2.0,
		RetryableErrors:    []string{"CUDA out of memory", "resource temporarily unavailable"},
		NonRetryableErrors: []string{"invalid kit", "no such file"},
	},
	ClassReads: {
		MaxAttempts:        2,
		InitialDelay:       500 * time.Millisecond,
		MaxDelay:           5 * time.Second,
		BackoffMultiplier:  2.0,
		RetryableErrors:    []string{"resource temporarily unavailable", "too many open files"},
		NonRetryableErrors: []string{"no such file", "invalid option", "unrecognized"},
	},
	ClassArtifact: {
		MaxAttempts:        3,
		InitialDelay:       2 * time.Second,
		MaxDelay:           30 * time.Second,
		BackoffMultiplier:  2.0,
		RetryableErrors:    []string{"database is locked", "Resource temporarily unavailable", "No space left"},
		NonRetryableErrors: []string{"not a valid", "There was a problem", "Invalid value"},
	},
	ClassClassify: {
		MaxAttempts:        2,
		InitialDelay:       10 * time.Second,
		MaxDelay:           60 * time.Second,
		BackoffMultiplier:  2.0,
		RetryableErrors:    []string{"MemoryError", "Killed", "database is locked"},
		NonRetryableErrors: []string{"not a valid", "Invalid value"},
	},
}
