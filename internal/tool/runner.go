// Package tool wraps every external program the pipeline drives behind one
// invoke/verify contract. Success is judged by the artifacts a call leaves
// behind, not by the program's exit status alone.
package tool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command is a single process execution request.
type Command struct {
	Binary    string
	Arguments []string
	// Dir is the working directory; empty means the current one. The pipeline
	// always passes absolute paths so it never has to change directory.
	Dir string
	// Stdout, when set, receives the process standard output.
	Stdout io.Writer
	Env    []string
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// Result is what a finished process reported.
type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Runner executes commands. ExecRunner is the production implementation;
// tests substitute fakes that create the expected artifacts themselves.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands on the host with os/exec.
type ExecRunner struct {
	// MaxStderr bounds the captured stderr kept for diagnostics.
	MaxStderr int
}

// Run starts the process and waits for it. A non-zero exit is reported in
// Result.ExitCode with a nil error; err is only set when the process could
// not be started or was killed by ctx.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	max := r.MaxStderr
	if max <= 0 {
		max = 64 * 1024
	}
	c := exec.CommandContext(ctx, cmd.Binary, cmd.Arguments...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	var stderr tailBuffer
	stderr.max = max
	c.Stderr = &stderr
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	}

	start := time.Now()
	err := c.Run()
	res := Result{ExitCode: 0, Stderr: stderr.String(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
