package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/planner"
	"github.com/repx-org/repx/pkg/repxerr"
)

func chainPlan() *planner.OrchestrationPlan {
	return &planner.OrchestrationPlan{
		SubmissionsDir: "/labs/x/submissions/abc",
		Jobs: map[lab.JobID]planner.JobPlan{
			"a": {ScriptHash: "hash-a"},
			"b": {ScriptHash: "hash-b", Dependencies: []lab.JobID{"a"}},
			"c": {ScriptHash: "hash-c", Dependencies: []lab.JobID{"b"}},
		},
	}
}

func TestRunSubmitsInDependencyOrder(t *testing.T) {
	plan := chainPlan()
	var out bytes.Buffer
	writer := bufio.NewWriter(&out)

	var order []string
	submit := func(ctx context.Context, scriptPath string, dependencyIDs []int) (int, error) {
		order = append(order, scriptPath)
		return 100 + len(order), nil
	}

	err := Run(context.Background(), plan, submit, writer)
	require.NoError(t, err)
	writer.Flush()

	require.Len(t, order, 3)
	assert.Equal(t, plan.ScriptPath("hash-a"), order[0])
	assert.Equal(t, plan.ScriptPath("hash-b"), order[1])
	assert.Equal(t, plan.ScriptPath("hash-c"), order[2])

	assert.Equal(t, "a 101\nb 102\nc 103\n", out.String())
}

func TestRunPassesSubmittedDependencyIDs(t *testing.T) {
	plan := chainPlan()
	var out bytes.Buffer
	writer := bufio.NewWriter(&out)

	seenDeps := make(map[string][]int)
	submit := func(ctx context.Context, scriptPath string, dependencyIDs []int) (int, error) {
		seenDeps[scriptPath] = dependencyIDs
		return 100 + len(seenDeps), nil
	}

	err := Run(context.Background(), plan, submit, writer)
	require.NoError(t, err)

	assert.Empty(t, seenDeps[plan.ScriptPath("hash-a")])
	assert.Equal(t, []int{101}, seenDeps[plan.ScriptPath("hash-b")])
	assert.Equal(t, []int{102}, seenDeps[plan.ScriptPath("hash-c")])
}

func TestRunDetectsCycle(t *testing.T) {
	plan := &planner.OrchestrationPlan{
		SubmissionsDir: "/labs/x/submissions/abc",
		Jobs: map[lab.JobID]planner.JobPlan{
			"a": {ScriptHash: "hash-a", Dependencies: []lab.JobID{"b"}},
			"b": {ScriptHash: "hash-b", Dependencies: []lab.JobID{"a"}},
		},
	}
	var out bytes.Buffer
	writer := bufio.NewWriter(&out)

	submit := func(ctx context.Context, scriptPath string, dependencyIDs []int) (int, error) {
		return 1, nil
	}

	err := Run(context.Background(), plan, submit, writer)
	require.Error(t, err)
	var cfgErr *repxerr.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "cycle detected")
}

func TestRunStopsOnSubmitterError(t *testing.T) {
	plan := chainPlan()
	var out bytes.Buffer
	writer := bufio.NewWriter(&out)

	submit := func(ctx context.Context, scriptPath string, dependencyIDs []int) (int, error) {
		if scriptPath == plan.ScriptPath("hash-b") {
			return 0, &repxerr.ExecutionFailedError{Message: "sbatch failed"}
		}
		return 101, nil
	}

	err := Run(context.Background(), plan, submit, writer)
	require.Error(t, err)
	var execErr *repxerr.ExecutionFailedError
	assert.ErrorAs(t, err, &execErr)
}
