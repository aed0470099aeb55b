package model

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid option value, classification method or path
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration: %s=%q: %s", e.Field, e.Value, e.Reason)
}

// DependencyMissingError lists required external tools absent from the environment
type DependencyMissingError struct {
	Tools []string
}

func (e *DependencyMissingError) Error() string {
	return "missing external dependencies: " + strings.Join(e.Tools, ", ")
}

// StagePreconditionError reports an expected input artifact that is absent
type StagePreconditionError struct {
	Stage string
	Path  string
}

func (e *StagePreconditionError) Error() string {
	return fmt.Sprintf("stage %s: required input %s is missing", e.Stage, e.Path)
}

// StagePostconditionError reports an expected output artifact that is absent after the stage ran
type StagePostconditionError struct {
	Stage string
	Path  string
	Err   error
}

func (e *StagePostconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: expected output %s: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("stage %s: expected output %s was not produced", e.Stage, e.Path)
}

func (e *StagePostconditionError) Unwrap() error { return e.Err }

// FileFailure pairs a sample with the error its operation returned
type FileFailure struct {
	ID  string
	Err error
}

// PerFileOperationError reports the files that failed inside one dispatcher batch
type PerFileOperationError struct {
	Stage    string
	Failures []FileFailure
}

func (e *PerFileOperationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.ID, f.Err))
	}
	return fmt.Sprintf("stage %s: %d file(s) failed: %s", e.Stage, len(e.Failures), strings.Join(parts, "; "))
}

func (e *PerFileOperationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ToolError is the result of a failed external tool call
type ToolError struct {
	Tool      string
	ExitCode  int
	Stderr    string
	Transient bool
	Attempts  int
	Err       error
}

func (e *ToolError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s failed (%s, exit %d, %d attempt(s))", e.Tool, kind, e.ExitCode, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// LedgerInvariantError reports an entry that would make the read count grow
type LedgerInvariantError struct {
	Stage  string
	Before int64
	After  int64
	Reason string
}

func (e *LedgerInvariantError) Error() string {
	return fmt.Sprintf("ledger: stage %s reports %d -> %d: %s", e.Stage, e.Before, e.After, e.Reason)
}

// IsTransient reports whether err carries a transient ToolError
func IsTransient(err error) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Transient
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
