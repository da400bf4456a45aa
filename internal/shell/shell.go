// Package shell is the capability layer every Falcon component goes
// through to invoke host commands (zfs, dladm, bhyvectl, dd, truncate,
// unxz). Routing all of it through one interface keeps the rest of the
// codebase testable without a real host: tests substitute a fake that
// records argv instead of executing anything.
package shell

import (
	"bytes"
	"context"
	"os/exec"

	"falcon/falconerr"
)

// Runner executes host commands. The real implementation shells out via
// os/exec; tests use a fake that records invocations.
type Runner interface {
	// Run executes name with args and returns stdout/stderr. A non-zero
	// exit is reported as a *falconerr.Error of Kind HostCommand wrapping
	// the captured stderr.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// Real shells out using os/exec.CommandContext.
type Real struct{}

func (Real) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), falconerr.New(falconerr.HostCommand, name, &CommandError{
			Args:   args,
			Stderr: stderr.String(),
			Cause:  err,
		})
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}

// CommandError carries the detail of a failed host command invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Cause  error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return e.Cause.Error() + ": " + e.Stderr
	}
	return e.Cause.Error()
}

func (e *CommandError) Unwrap() error { return e.Cause }

var Default Runner = Real{}
