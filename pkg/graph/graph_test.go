package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

// staticDeps builds a DependencyFunc from a plain adjacency map, for
// tests that don't need a full lab.Lab fixture.
func staticDeps(m map[lab.JobID][]lab.JobID) DependencyFunc {
	return func(j lab.JobID) []lab.JobID { return m[j] }
}

func TestBuildDependencyClosureLinearChain(t *testing.T) {
	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"c": {"b"},
		"b": {"a"},
		"a": {},
	})
	got := BuildDependencyClosure(deps, "c")
	assert.Equal(t, []lab.JobID{"a", "b", "c"}, got)
}

func TestBuildDependencyClosureDiamondIsValidTopologicalOrder(t *testing.T) {
	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"end":   {"mid_a", "mid_b"},
		"mid_a": {"start"},
		"mid_b": {"start"},
		"start": {},
	})
	got := BuildDependencyClosure(deps, "end")
	index := make(map[lab.JobID]int, len(got))
	for i, j := range got {
		index[j] = i
	}
	assert.Less(t, index["start"], index["mid_a"])
	assert.Less(t, index["start"], index["mid_b"])
	assert.Less(t, index["mid_a"], index["end"])
	assert.Less(t, index["mid_b"], index["end"])
	assert.Equal(t, lab.JobID("end"), got[len(got)-1])
}

func TestTopologicalWavesLinearChain(t *testing.T) {
	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"A": {}, "B": {"A"}, "C": {"B"},
	})
	waves, err := TopologicalWaves([]lab.JobID{"A", "B", "C"}, deps)
	require.NoError(t, err)
	assert.Equal(t, [][]lab.JobID{{"A"}, {"B"}, {"C"}}, waves)
}

func TestTopologicalWavesDiamond(t *testing.T) {
	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"start": {}, "mid_a": {"start"}, "mid_b": {"start"}, "end": {"mid_a", "mid_b"},
	})
	waves, err := TopologicalWaves([]lab.JobID{"start", "mid_a", "mid_b", "end"}, deps)
	require.NoError(t, err)
	require.Len(t, waves, 3)
	assert.Equal(t, []lab.JobID{"start"}, waves[0])
	assert.Equal(t, []lab.JobID{"mid_a", "mid_b"}, waves[1])
	assert.Equal(t, []lab.JobID{"end"}, waves[2])
}

func TestTopologicalWavesFanInWithPreCompletion(t *testing.T) {
	// A, C, D, E are the to-submit set; B is pre-completed and therefore
	// outside the set, so D's dependency on B doesn't block it.
	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"A": {},
		"C": {"A"},
		"D": {"B", "C"},
		"E": {"C"},
	})
	waves, err := TopologicalWaves([]lab.JobID{"A", "C", "D", "E"}, deps)
	require.NoError(t, err)
	assert.Equal(t, [][]lab.JobID{{"A"}, {"C"}, {"D", "E"}}, waves)
}

func TestTopologicalWavesCycleDetected(t *testing.T) {
	deps := staticDeps(map[lab.JobID][]lab.JobID{
		"A": {"B"}, "B": {"C"}, "C": {"A"},
	})
	_, err := TopologicalWaves([]lab.JobID{"A", "B", "C"}, deps)
	var cycleErr *repxerr.CycleDetectedError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"A", "B", "C"}, cycleErr.Remaining)
}

func TestTopologicalWavesEmptySet(t *testing.T) {
	waves, err := TopologicalWaves(nil, staticDeps(nil))
	require.NoError(t, err)
	assert.Empty(t, waves)
}

func TestLabDependencyFuncUsesAllExecutables(t *testing.T) {
	dep := lab.JobID("scatter-dep")
	l := &lab.Lab{
		Jobs: map[lab.JobID]lab.Job{
			"scatter-dep": {StageType: "simple", Executables: map[string]lab.Executable{"main": {}}},
			"sg": {
				StageType: "scatter-gather",
				Executables: map[string]lab.Executable{
					"scatter": {Inputs: []lab.InputMapping{{JobID: &dep, SourceOutput: "o", TargetInput: "i"}}},
					"worker":  {},
					"gather":  {},
				},
			},
		},
	}
	got := LabDependencyFunc(l)("sg")
	assert.Equal(t, []lab.JobID{"scatter-dep"}, got)
}
