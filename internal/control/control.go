// Package control wraps every external tool the control plane shells
// out to (ssh, scp, rsync, sbatch, sacct, squeue, scancel, find) behind
// one typed interface, isolating shell-quoting correctness and giving
// every Target implementation the same captured (stdout, stderr, error)
// contract.
//
// Adapted from kubetest/process.Control's FinishRunning, trimmed to the
// synchronous request/response shape repx's Target abstraction needs:
// repx never runs a long-lived interactive subprocess, so the
// interrupt/terminate timer machinery that process.Control layers over
// exec.Cmd is dropped in favor of a plain Run that always waits for
// completion and returns captured output.
package control

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/repx-org/repx/pkg/repxerr"
)

// Result captures the outcome of one subprocess invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands and captures their output. The
// zero value is ready to use.
type Runner struct {
	// Verbose mirrors kubetest's process-execution verbosity flag: when
	// set, command lines are logged at info level before they run.
	Verbose bool
}

// Run executes name with args, waiting for completion and returning
// captured stdout/stderr. A non-zero exit is not itself an error -- the
// caller inspects Result.ExitCode -- but a failure to even launch the
// process (binary missing, permission denied) is surfaced as a
// ProcessLaunchFailedError, keeping ExecutionFailed (subprocess ran
// and failed) distinct from ProcessLaunchFailed (subprocess could not
// be started at all).
func (r Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Verbose {
		logrus.WithField("command", cmd.String()).Info("running")
	}

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitErr.ExitCode(),
			}, nil
		}
		return Result{}, &repxerr.ProcessLaunchFailedError{CommandName: name, Err: err}
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
}

// RunChecked is Run, but additionally turns a non-zero exit into an
// ExecutionFailedError carrying the captured stderr.
func (r Runner) RunChecked(ctx context.Context, name string, args ...string) (Result, error) {
	res, err := r.Run(ctx, name, args...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &repxerr.ExecutionFailedError{
			Message:    "command " + name + " exited non-zero",
			LogSummary: res.Stderr,
		}
	}
	return res, nil
}

// RunWithStdin is RunChecked, but feeds stdin to the child's standard
// input -- used to pipe file content through an ssh remote-write
// script without a separate temp file round-trip.
func (r Runner) RunWithStdin(ctx context.Context, stdin string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewBufferString(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.Verbose {
		logrus.WithField("command", cmd.String()).Info("running")
	}

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode()}, &repxerr.ExecutionFailedError{
				Message:    "command " + name + " exited non-zero",
				LogSummary: stderr.String(),
			}
		}
		return Result{}, &repxerr.ProcessLaunchFailedError{CommandName: name, Err: err}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
}
