// Package scheduler implements the Local Wave Scheduler (C9, spec
// §4.7): a single control thread that drives a concurrency-capped pool
// of OS processes, one per ready job, polling for completion.
package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/repx-org/repx/internal/reposlog"
	"github.com/repx-org/repx/pkg/events"
	"github.com/repx-org/repx/pkg/graph"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

// pollInterval is the idle sleep between reap/ready-set recomputation
// cycles.
const pollInterval = 50 * time.Millisecond

// CommandFunc builds the *exec.Cmd that executes one job. The returned
// command must not yet be started.
type CommandFunc func(jobID lab.JobID) (*exec.Cmd, error)

// StageTypeFunc reports whether jobID's stage type may be scheduled
// directly by the wave scheduler. "worker" and "gather" stage jobs are
// never scheduled here -- they are driven by the scatter-gather
// package instead.
type StageTypeFunc func(jobID lab.JobID) bool

type jobResult struct {
	jobID lab.JobID
	err   error
}

// Options configures one Run invocation.
type Options struct {
	// Concurrency caps simultaneously-running jobs. Zero means
	// runtime.NumCPU(), matching the Rust implementation's num_cpus::get().
	Concurrency int
	Sender      events.Sender
}

// Run drives jobs to completion, honoring deps and schedulable for
// in-batch dependency ordering and stage-type restriction. It returns
// once every job has succeeded. After the first failure no new job is
// started; once no children remain active it aborts with one
// ExecutionFailedError that lists every job that failed meanwhile: a
// partial wave's in-flight siblings are left to exit on their own
// rather than being killed, but the whole submission is reported as
// failed.
func Run(
	ctx context.Context,
	jobs []lab.JobID,
	deps graph.DependencyFunc,
	schedulable StageTypeFunc,
	cmdFn CommandFunc,
	opts Options,
) error {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	jobsLeft := make(map[lab.JobID]bool, len(jobs))
	for _, j := range jobs {
		jobsLeft[j] = true
	}
	completed := make(map[lab.JobID]bool, len(jobs))
	active := make(map[lab.JobID]*exec.Cmd)

	results := make(chan jobResult, len(jobs))
	total := len(jobs)
	current := 0

	var failed []lab.JobID
	var failures error

	for len(jobsLeft) > 0 || len(active) > 0 {
		// Reap: drain any results that are already available without
		// blocking the control loop, collecting every failure the cycle
		// surfaces rather than only the first.
		drained := true
		for drained {
			select {
			case res := <-results:
				delete(active, res.jobID)
				if res.err != nil {
					// A failed job must leave jobsLeft too, or readySet
					// would hand it straight back to cmdFn while siblings
					// are still draining.
					delete(jobsLeft, res.jobID)
					failed = append(failed, res.jobID)
					failures = multierror.Append(failures, fmt.Errorf("job %q failed: %w", res.jobID, res.err))
				} else {
					completed[res.jobID] = true
					delete(jobsLeft, res.jobID)
				}
			default:
				drained = false
			}
		}

		if failures != nil && len(active) == 0 {
			return &repxerr.ExecutionFailedError{
				Message:    fmt.Sprintf("%d job(s) failed: %v", len(failed), failed),
				LogSummary: failures.Error(),
			}
		}

		if len(jobsLeft) == 0 {
			break
		}

		availableSlots := concurrency - len(active)
		if availableSlots > 0 && failures == nil {
			ready := readySet(jobsLeft, completed, deps, schedulable)
			if len(ready) == 0 && len(active) == 0 {
				remaining := make([]string, 0, len(jobsLeft))
				for j := range jobsLeft {
					remaining = append(remaining, string(j))
				}
				sort.Strings(remaining)
				return &repxerr.CycleDetectedError{Remaining: remaining}
			}

			for _, jobID := range ready {
				if availableSlots == 0 {
					break
				}
				cmd, err := cmdFn(jobID)
				if err != nil {
					return fmt.Errorf("building command for job %q: %w", jobID, err)
				}
				if err := cmd.Start(); err != nil {
					return &repxerr.ProcessLaunchFailedError{CommandName: cmd.Path, Err: err}
				}

				active[jobID] = cmd
				availableSlots--
				current++

				pid := cmd.Process.Pid
				opts.Sender.Send(events.Event{Kind: events.JobStarted, JobID: jobID, PID: pid, Current: current, Total: total})
				reposlog.Job(string(jobID)).WithField("pid", pid).Info("job started")

				go func(jobID lab.JobID, cmd *exec.Cmd) {
					results <- jobResult{jobID: jobID, err: cmd.Wait()}
				}(jobID, cmd)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return nil
}

// readySet computes the jobs in jobsLeft whose in-batch dependencies
// have all completed, restricted to schedulable stage types, sorted
// ascending by JobID for deterministic submission order.
func readySet(jobsLeft map[lab.JobID]bool, completed map[lab.JobID]bool, deps graph.DependencyFunc, schedulable StageTypeFunc) []lab.JobID {
	var ready []lab.JobID
	for jobID := range jobsLeft {
		if !schedulable(jobID) {
			continue
		}
		allDepsMet := true
		for _, dep := range deps(jobID) {
			if jobsLeft[dep] && !completed[dep] {
				allDepsMet = false
				break
			}
		}
		if allDepsMet {
			ready = append(ready, jobID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	return ready
}
