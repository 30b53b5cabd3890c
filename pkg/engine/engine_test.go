package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repx-org/repx/pkg/lab"
)

func simpleJob(deps ...string) lab.Job {
	var inputs []lab.InputMapping
	for _, d := range deps {
		id := lab.JobID(d)
		inputs = append(inputs, lab.InputMapping{JobID: &id, SourceOutput: "default", TargetInput: d})
	}
	return lab.Job{
		StageType:   "simple",
		Executables: map[string]lab.Executable{"main": {Inputs: inputs, Outputs: map[string]interface{}{}}},
	}
}

func chainLab() *lab.Lab {
	return &lab.Lab{
		Jobs: map[lab.JobID]lab.Job{
			"a": simpleJob(),
			"b": simpleJob("a"),
			"c": simpleJob("b"),
		},
	}
}

func TestDetermineRootPendingDependentsBlockedWhenNoneObserved(t *testing.T) {
	l := chainLab()
	result := Determine(l, nil)
	assert.Equal(t, StatusPending, result["a"].Status)
	assert.Equal(t, StatusBlocked, result["b"].Status)
	assert.Equal(t, StatusBlocked, result["c"].Status)
}

func TestDetermineSucceededPropagates(t *testing.T) {
	l := chainLab()
	observed := map[lab.JobID]JobStatus{
		"a": {Status: StatusSucceeded, Location: "local"},
	}
	result := Determine(l, observed)
	assert.Equal(t, StatusSucceeded, result["a"].Status)
	assert.Equal(t, StatusPending, result["b"].Status)
	assert.Equal(t, StatusBlocked, result["c"].Status)
}

func TestDetermineObservedNeverDowngraded(t *testing.T) {
	l := chainLab()
	observed := map[lab.JobID]JobStatus{
		"a": {Status: StatusRunning},
	}
	result := Determine(l, observed)
	assert.Equal(t, StatusRunning, result["a"].Status)
}

func TestDetermineIdempotent(t *testing.T) {
	l := chainLab()
	observed := map[lab.JobID]JobStatus{"a": {Status: StatusSucceeded}}
	first := Determine(l, observed)

	terminal := make(map[lab.JobID]JobStatus)
	for id, st := range first {
		if st.Status == StatusSucceeded || st.Status == StatusFailed {
			terminal[id] = st
		}
	}
	second := Determine(l, terminal)
	for id, st := range first {
		assert.Equal(t, st.Status, second[id].Status, "job %s", id)
	}
}

func TestAggregateRunPrecedence(t *testing.T) {
	run := lab.Run{Jobs: []lab.JobID{"a", "b", "c"}}
	statuses := map[lab.JobID]JobStatus{
		"a": {Status: StatusSucceeded},
		"b": {Status: StatusFailed},
		"c": {Status: StatusRunning},
	}
	assert.Equal(t, StatusFailed, AggregateRun(run, statuses))
}

func TestAggregateRunEmptyIsBlocked(t *testing.T) {
	assert.Equal(t, StatusBlocked, AggregateRun(lab.Run{}, nil))
}
