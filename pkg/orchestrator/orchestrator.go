// Package orchestrator implements the SLURM Orchestrator (C10, spec
// §4.8): the process that runs on the remote target itself, reading a
// plan.json produced by pkg/planner and submitting each job wave by
// wave with afterok dependency chains, matching
// repx-runner/src/commands/internal.rs::handle_internal_orchestrate.
package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/planner"
	"github.com/repx-org/repx/pkg/repxerr"
)

// Submitter invokes the batch submitter for one script and returns its
// batch ID. Production wires this to sbatch; tests substitute a fake.
type Submitter func(ctx context.Context, scriptPath string, dependencyIDs []int) (batchID int, err error)

// SbatchSubmitter shells out to sbatch --parsable, adding
// --dependency=afterok:<ids>:...  --kill-on-invalid-dep=yes when
// dependencyIDs is non-empty, matching internal.rs exactly.
func SbatchSubmitter(ctx context.Context, scriptPath string, dependencyIDs []int) (int, error) {
	args := []string{"--parsable"}
	if len(dependencyIDs) > 0 {
		ids := make([]string, len(dependencyIDs))
		for i, id := range dependencyIDs {
			ids[i] = strconv.Itoa(id)
		}
		args = append(args, "--dependency=afterok:"+strings.Join(ids, ":"), "--kill-on-invalid-dep=yes")
	}
	args = append(args, scriptPath)

	cmd := exec.CommandContext(ctx, "sbatch", args...)
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return 0, &repxerr.ExecutionFailedError{
			Message:    fmt.Sprintf("sbatch command failed for script %q", scriptPath),
			LogPath:    scriptPath,
			LogSummary: stderr,
		}
	}

	batchID, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, &repxerr.ExecutionFailedError{
			Message:    fmt.Sprintf("failed to parse SLURM ID from sbatch output for script %q", scriptPath),
			LogSummary: fmt.Sprintf("sbatch output was: %q", string(out)),
		}
	}
	return batchID, nil
}

// Run drives plan wave by wave: each wave is every job whose
// dependencies have all already been submitted, sorted ascending by
// JobID for determinism (mirroring pkg/graph.TopologicalWaves, but
// computed incrementally here since dependencies resolve to batch IDs
// only as each wave completes, not to a static ordering upfront). For
// every submitted job it writes "<job_id> <batch_id>\n" to out, the
// line protocol the client parses to populate its persistent batch-ID
// map.
func Run(ctx context.Context, plan *planner.OrchestrationPlan, submit Submitter, out *bufio.Writer) error {
	submitted := make(map[lab.JobID]int, len(plan.Jobs))
	jobsLeft := make(map[lab.JobID]bool, len(plan.Jobs))
	for jobID := range plan.Jobs {
		jobsLeft[jobID] = true
	}

	wave := 0
	for len(jobsLeft) > 0 {
		var currentWave []lab.JobID
		for jobID := range jobsLeft {
			jp := plan.Jobs[jobID]
			allDepsMet := true
			for _, dep := range jp.Dependencies {
				if _, ok := submitted[dep]; !ok {
					allDepsMet = false
					break
				}
			}
			if allDepsMet {
				currentWave = append(currentWave, jobID)
			}
		}
		sort.Slice(currentWave, func(i, j int) bool { return currentWave[i] < currentWave[j] })

		if len(currentWave) == 0 {
			// Unlike the client-side wave planner, a cycle surfacing here
			// means the plan.json itself is malformed, so it is reported
			// as a configuration error, matching
			// handle_internal_orchestrate.
			remaining := make([]string, 0, len(jobsLeft))
			for jobID := range jobsLeft {
				remaining = append(remaining, string(jobID))
			}
			sort.Strings(remaining)
			return &repxerr.ConfigurationError{Message: fmt.Sprintf(
				"cycle detected in job dependency graph: %v", remaining,
			)}
		}

		logrus.WithFields(logrus.Fields{"wave": wave, "num_jobs": len(currentWave)}).Info("submitting wave")

		for _, jobID := range currentWave {
			delete(jobsLeft, jobID)
			jp := plan.Jobs[jobID]
			scriptPath := plan.ScriptPath(jp.ScriptHash)

			var depIDs []int
			for _, dep := range jp.Dependencies {
				if id, ok := submitted[dep]; ok {
					depIDs = append(depIDs, id)
				}
			}

			batchID, err := submit(ctx, scriptPath, depIDs)
			if err != nil {
				return err
			}
			submitted[jobID] = batchID

			fmt.Fprintf(out, "%s %d\n", jobID, batchID)
			out.Flush()
		}
		wave++
	}

	logrus.Info("all jobs submitted successfully")
	return nil
}
