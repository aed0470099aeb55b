package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"amplicon-pipeline/internal/model"
)

// Invocation describes one external call and the artifacts that prove it worked.
type Invocation struct {
	Stage string
	// Tool is the logical tool name; the Adapter maps it to a binary.
	Tool  string
	Class string
	Args  []string
	// Inputs must exist before the call.
	Inputs []string
	// Outputs must exist after the call.
	Outputs []string
	// StdoutTo captures standard output into this file. It is written under a
	// temporary name and renamed once the call succeeds.
	StdoutTo string
	// Verify optionally inspects the outputs beyond bare existence.
	Verify func(outputs []string) error
}

// Invoker is the contract stages depend on.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// Adapter implements Invoker on top of a Runner.
type Adapter struct {
	runner   Runner
	lookup   *Lookup
	policies Policies
	timeout  time.Duration
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout bounds each individual call. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(a *Adapter) { a.timeout = d } }

// WithPolicies replaces the per-class retry policies.
func WithPolicies(p Policies) Option { return func(a *Adapter) { a.policies = p } }

// WithSleep replaces the backoff wait, used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) { a.sleep = fn }
}

// NewAdapter builds an Adapter. lookup may be nil, in which case tool names
// are executed as given.
func NewAdapter(runner Runner, lookup *Lookup, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		runner:   runner,
		lookup:   lookup,
		policies: NewPolicies(nil),
		logger:   logger.Named("tool"),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Invoke runs inv, retrying transient failures per the class policy, and
// verifies that every expected output exists afterwards.
func (a *Adapter) Invoke(ctx context.Context, inv Invocation) error {
	for _, in := range inv.Inputs {
		if _, err := os.Stat(in); err != nil {
			return &model.StagePreconditionError{Stage: inv.Stage, Path: in}
		}
	}

	binary := inv.Tool
	if a.lookup != nil {
		binary = a.lookup.Binary(inv.Tool)
	}
	policy := a.policies.For(inv.Class)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff(policy, attempt-1)
			a.logger.Info("retrying tool",
				zap.String("stage", inv.Stage),
				zap.String("tool", inv.Tool),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := a.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := a.runOnce(ctx, inv, binary, policy, attempt)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !model.IsTransient(err) || attempt == policy.MaxAttempts {
			return err
		}
		lastErr = err
	}

	for _, out := range inv.Outputs {
		if _, err := os.Stat(out); err != nil {
			return &model.StagePostconditionError{Stage: inv.Stage, Path: out}
		}
	}
	if inv.Verify != nil {
		if err := inv.Verify(inv.Outputs); err != nil {
			path := ""
			if len(inv.Outputs) > 0 {
				path = inv.Outputs[0]
			}
			return &model.StagePostconditionError{Stage: inv.Stage, Path: path, Err: err}
		}
	}
	return nil
}

func (a *Adapter) runOnce(ctx context.Context, inv Invocation, binary string, policy model.RetryConfig, attempt int) error {
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := Command{Binary: binary, Arguments: inv.Args}
	var stdout *os.File
	if inv.StdoutTo != "" {
		f, err := os.CreateTemp(filepath.Dir(inv.StdoutTo), "."+filepath.Base(inv.StdoutTo)+"-*")
		if err != nil {
			return fmt.Errorf("capture stdout of %s: %w", inv.Tool, err)
		}
		stdout = f
		defer os.Remove(f.Name())
		cmd.Stdout = f
	}

	a.logger.Debug("invoking tool",
		zap.String("stage", inv.Stage),
		zap.String("command", cmd.String()))

	res, err := a.runner.Run(callCtx, cmd)
	if stdout != nil {
		if cerr := stdout.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return &model.ToolError{
			Tool:      inv.Tool,
			ExitCode:  res.ExitCode,
			Stderr:    res.Stderr,
			Transient: errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
			Attempts:  attempt,
			Err:       err,
		}
	}
	if res.ExitCode != 0 {
		return &model.ToolError{
			Tool:      inv.Tool,
			ExitCode:  res.ExitCode,
			Stderr:    res.Stderr,
			Transient: isTransient(policy, res.Stderr),
			Attempts:  attempt,
		}
	}
	a.logger.Debug("tool finished",
		zap.String("stage", inv.Stage),
		zap.String("tool", inv.Tool),
		zap.Duration("duration", res.Duration))

	if stdout != nil {
		if err := os.Rename(stdout.Name(), inv.StdoutTo); err != nil {
			return fmt.Errorf("publish stdout of %s: %w", inv.Tool, err)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
