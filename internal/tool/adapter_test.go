package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
)

// scriptedRunner replays one step per call.
type scriptedRunner struct {
	steps []func(cmd Command) (Result, error)
	calls []Command
}

func (s *scriptedRunner) Run(_ context.Context, cmd Command) (Result, error) {
	s.calls = append(s.calls, cmd)
	i := len(s.calls) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i](cmd)
}

func touch(path string) func(Command) (Result, error) {
	return func(Command) (Result, error) {
		return Result{}, os.WriteFile(path, []byte("ok"), 0o644)
	}
}

func exitWith(code int, stderr string) func(Command) (Result, error) {
	return func(Command) (Result, error) { return Result{ExitCode: code, Stderr: stderr}, nil }
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestAdapter(r Runner, opts ...Option) *Adapter {
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	return NewAdapter(r, nil, zap.NewNop(), opts...)
}

func TestInvokeSucceedsWhenOutputExists(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "table.qza")
	r := &scriptedRunner{steps: []func(Command) (Result, error){touch(out)}}

	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "import", Tool: "qiime", Class: model.ClassArtifact,
		Args: []string{"tools", "import"}, Outputs: []string{out},
	})
	require.NoError(t, err)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "qiime tools import", r.calls[0].String())
}

func TestInvokeMissingOutputIsPostconditionError(t *testing.T) {
	dir := t.TempDir()
	r := &scriptedRunner{steps: []func(Command) (Result, error){exitWith(0, "")}}

	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "chimera_filter", Tool: "qiime", Class: model.ClassArtifact,
		Outputs: []string{filepath.Join(dir, "nonchimeras.qza")},
	})
	var pe *model.StagePostconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "chimera_filter", pe.Stage)
	assert.Len(t, r.calls, 1, "a missing output is not retried")
}

func TestInvokeMissingInputIsPreconditionError(t *testing.T) {
	r := &scriptedRunner{steps: []func(Command) (Result, error){exitWith(0, "")}}
	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "trim", Tool: "cutadapt", Inputs: []string{"/does/not/exist.fastq"},
	})
	var pe *model.StagePreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, r.calls)
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "taxonomy.qza")
	r := &scriptedRunner{steps: []func(Command) (Result, error){
		exitWith(1, "sqlite3.OperationalError: database is locked"),
		touch(out),
	}}

	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "classify", Tool: "qiime", Class: model.ClassArtifact, Outputs: []string{out},
	})
	require.NoError(t, err)
	assert.Len(t, r.calls, 2)
}

func TestInvokeFatalFailureIsNotRetried(t *testing.T) {
	r := &scriptedRunner{steps: []func(Command) (Result, error){exitWith(2, "Invalid value for '--i-table'")}}

	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "collapse_taxonomy", Tool: "qiime", Class: model.ClassArtifact,
	})
	var te *model.ToolError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Transient)
	assert.Equal(t, 2, te.ExitCode)
	assert.Len(t, r.calls, 1)
}

func TestInvokeGivesUpAfterMaxAttempts(t *testing.T) {
	r := &scriptedRunner{steps: []func(Command) (Result, error){exitWith(1, "database is locked")}}
	policies := NewPolicies(map[string]model.RetryConfig{
		"flaky": {MaxAttempts: 3, RetryableErrors: []string{"locked"}},
	})

	err := newTestAdapter(r, WithPolicies(policies)).Invoke(context.Background(), Invocation{
		Stage: "import", Tool: "qiime", Class: "flaky",
	})
	var te *model.ToolError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Transient)
	assert.Equal(t, 3, te.Attempts)
	assert.Len(t, r.calls, 3)
}

func TestInvokeCapturesStdout(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sub.fasta")
	r := &scriptedRunner{steps: []func(Command) (Result, error){func(cmd Command) (Result, error) {
		_, err := fmt.Fprint(cmd.Stdout, ">a\nACGT\n")
		return Result{}, err
	}}}

	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "triage", Tool: "seqtk", Class: model.ClassReads,
		StdoutTo: out, Outputs: []string{out},
		Verify: func(outs []string) error {
			b, err := os.ReadFile(outs[0])
			if err != nil {
				return err
			}
			if len(b) == 0 {
				return errors.New("empty")
			}
			return nil
		},
	})
	require.NoError(t, err)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, ">a\nACGT\n", string(b))

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".sub.fasta-*"))
	assert.Empty(t, leftovers)
}

func TestInvokeVerifyFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "x.fasta")
	r := &scriptedRunner{steps: []func(Command) (Result, error){touch(out)}}

	err := newTestAdapter(r).Invoke(context.Background(), Invocation{
		Stage: "triage", Tool: "seqtk", Outputs: []string{out},
		Verify: func([]string) error { return errors.New("expected 30000 reads, found 12") },
	})
	var pe *model.StagePostconditionError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "expected 30000 reads")
}

func TestLookupCheck(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "helper.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	l := NewLookup(map[string]string{"qiime": "qiime2-cli"}, dir)
	l.lookPath = func(name string) (string, error) {
		if name == "cutadapt" {
			return "/usr/bin/cutadapt", nil
		}
		return "", errors.New("not found")
	}

	assert.Equal(t, script, l.Binary("helper.sh"))
	assert.Equal(t, "qiime2-cli", l.Binary("qiime"))

	err := l.Check([]string{"cutadapt", "helper.sh", "qiime", "seqtk", "qiime"})
	var dm *model.DependencyMissingError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, []string{"qiime", "seqtk"}, dm.Tools)
}
