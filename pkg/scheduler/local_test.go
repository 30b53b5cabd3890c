package scheduler

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repx-org/repx/pkg/events"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

func staticDeps(m map[lab.JobID][]lab.JobID) func(lab.JobID) []lab.JobID {
	return func(j lab.JobID) []lab.JobID { return m[j] }
}

func alwaysSchedulable(lab.JobID) bool { return true }

// touchCmd returns a CommandFunc that appends jobID to a shared order
// file as its command runs, letting tests assert execution order
// without racing on stdout capture.
func touchCmd(t *testing.T, orderFile string) CommandFunc {
	return func(jobID lab.JobID) (*exec.Cmd, error) {
		script := `echo ` + string(jobID) + ` >> ` + orderFile
		return exec.Command("sh", "-c", script), nil
	}
}

func TestRunLinearChainSucceeds(t *testing.T) {
	dir := t.TempDir()
	orderFile := filepath.Join(dir, "order.txt")
	require.NoError(t, os.WriteFile(orderFile, nil, 0o644))

	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"A": {}, "B": {"A"}, "C": {"B"},
	})
	err := Run(context.Background(), []lab.JobID{"A", "B", "C"}, deps, alwaysSchedulable, touchCmd(t, orderFile), Options{Concurrency: 2, Sender: events.NewSender(nil)})
	require.NoError(t, err)

	content, err := os.ReadFile(orderFile)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC\n", string(content))
}

func TestRunFailingJobAbortsSubmission(t *testing.T) {
	cmdFn := func(jobID lab.JobID) (*exec.Cmd, error) {
		if jobID == "B" {
			return exec.Command("sh", "-c", "exit 1"), nil
		}
		return exec.Command("true"), nil
	}
	deps := staticDeps(map[lab.JobID][]lab.JobID{"A": {}, "B": {}})
	err := Run(context.Background(), []lab.JobID{"A", "B"}, deps, alwaysSchedulable, cmdFn, Options{Concurrency: 2, Sender: events.NewSender(nil)})
	require.Error(t, err)
	var execErr *repxerr.ExecutionFailedError
	require.ErrorAs(t, err, &execErr)
}

func TestRunNeverReschedulesOrContinuesPastFailure(t *testing.T) {
	dir := t.TempDir()
	orderFile := filepath.Join(dir, "order.txt")
	require.NoError(t, os.WriteFile(orderFile, nil, 0o644))

	// b-fails exits non-zero while a-slow is still running; c-later is
	// independent and would be ready as soon as b's slot frees. Neither
	// a re-dispatch of b nor a fresh start of c may happen.
	cmdFn := func(jobID lab.JobID) (*exec.Cmd, error) {
		switch jobID {
		case "a-slow":
			return exec.Command("sleep", "0.3"), nil
		case "b-fails":
			return exec.Command("sh", "-c", "echo b >> "+orderFile+"; exit 1"), nil
		default:
			return exec.Command("sh", "-c", "echo c >> "+orderFile), nil
		}
	}

	err := Run(context.Background(), []lab.JobID{"a-slow", "b-fails", "c-later"}, staticDeps(nil), alwaysSchedulable, cmdFn, Options{Concurrency: 2, Sender: events.NewSender(nil)})
	require.Error(t, err)
	var execErr *repxerr.ExecutionFailedError
	require.ErrorAs(t, err, &execErr)

	content, err := os.ReadFile(orderFile)
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(content), "failed job ran exactly once and no new job started after the failure")
}

func TestRunCycleDetected(t *testing.T) {
	deps := staticDeps(map[lab.JobID][]lab.JobID{"A": {"B"}, "B": {"A"}})
	cmdFn := func(jobID lab.JobID) (*exec.Cmd, error) { return exec.Command("true"), nil }
	err := Run(context.Background(), []lab.JobID{"A", "B"}, deps, alwaysSchedulable, cmdFn, Options{Concurrency: 2, Sender: events.NewSender(nil)})
	var cycleErr *repxerr.CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
}

func TestRunSkipsUnschedulableStageTypes(t *testing.T) {
	schedulable := func(jobID lab.JobID) bool { return jobID != "worker-0" }
	deps := staticDeps(nil)
	cmdFn := func(jobID lab.JobID) (*exec.Cmd, error) { return exec.Command("true"), nil }

	err := Run(context.Background(), []lab.JobID{"worker-0"}, deps, schedulable, cmdFn, Options{Concurrency: 1, Sender: events.NewSender(nil)})
	var cycleErr *repxerr.CycleDetectedError
	require.ErrorAs(t, err, &cycleErr, "a job set containing only unschedulable stage types can never become ready")
}

func TestRunEmptyJobSet(t *testing.T) {
	cmdFn := func(jobID lab.JobID) (*exec.Cmd, error) { return exec.Command("true"), nil }
	err := Run(context.Background(), nil, staticDeps(nil), alwaysSchedulable, cmdFn, Options{Sender: events.NewSender(nil)})
	require.NoError(t, err)
}
