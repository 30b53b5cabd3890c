// Package engine implements the Status Engine: a pure function mapping
// observed per-job outcome markers plus queue state into a fully
// propagated per-job and per-run status.
package engine

import (
	"sort"

	"github.com/repx-org/repx/pkg/lab"
)

// Status is one of the terminal or transitional states a Job or Run can
// occupy.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusRunning
	StatusQueued
	StatusPending
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusRunning:
		return "Running"
	case StatusQueued:
		return "Queued"
	case StatusPending:
		return "Pending"
	case StatusBlocked:
		return "Blocked"
	default:
		return "Unknown"
	}
}

// JobStatus is an observed or derived job status. Location names the
// Target an observed Succeeded/Failed marker was read from; it is empty
// for derived (Pending/Blocked) statuses.
type JobStatus struct {
	Status      Status
	Location    string
	MissingDeps []lab.JobID
}

// runPrecedence orders statuses from most to least urgent for run-level
// aggregation: Failed > Running > Queued > Pending > Blocked > Succeeded.
var runPrecedence = map[Status]int{
	StatusFailed:    0,
	StatusRunning:   1,
	StatusQueued:    2,
	StatusPending:   3,
	StatusBlocked:   4,
	StatusSucceeded: 5,
}

// Determine propagates observed into a full per-job status map for every
// job in lab.Jobs, via memoized depth-first resolution: a job already
// present in observed keeps that status; otherwise, if every dependency
// resolves to Succeeded the job is Pending, else it is Blocked with the
// set of non-succeeded dependency IDs. The algorithm terminates because
// lab dependency graphs are DAGs (an unverified assumption enforced
// elsewhere by the wave planner's cycle detection).
func Determine(l *lab.Lab, observed map[lab.JobID]JobStatus) map[lab.JobID]JobStatus {
	result := make(map[lab.JobID]JobStatus, len(l.Jobs))
	for jobID, st := range observed {
		result[jobID] = st
	}

	inProgress := make(map[lab.JobID]bool)

	var resolve func(jobID lab.JobID) JobStatus
	resolve = func(jobID lab.JobID) JobStatus {
		if st, ok := result[jobID]; ok {
			return st
		}
		if inProgress[jobID] {
			// A cycle reaching back here is not our concern: the wave
			// planner is the authoritative cycle detector. Treat the
			// revisited node as blocked on itself rather than recursing
			// forever.
			return JobStatus{Status: StatusBlocked, MissingDeps: []lab.JobID{jobID}}
		}
		inProgress[jobID] = true
		defer delete(inProgress, jobID)

		job, ok := l.Jobs[jobID]
		if !ok {
			st := JobStatus{Status: StatusBlocked}
			result[jobID] = st
			return st
		}

		var missing []lab.JobID
		for _, dep := range job.AllDependencies() {
			depStatus := resolve(dep)
			if depStatus.Status != StatusSucceeded {
				missing = append(missing, dep)
			}
		}

		var st JobStatus
		if len(missing) == 0 {
			st = JobStatus{Status: StatusPending}
		} else {
			sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
			st = JobStatus{Status: StatusBlocked, MissingDeps: missing}
		}
		result[jobID] = st
		return st
	}

	for jobID := range l.Jobs {
		resolve(jobID)
	}
	return result
}

// AggregateRun reduces the statuses of every job listed by run into a
// single run-level status via runPrecedence. A run with zero jobs is
// Blocked.
func AggregateRun(run lab.Run, jobStatuses map[lab.JobID]JobStatus) Status {
	if len(run.Jobs) == 0 {
		return StatusBlocked
	}
	best := StatusSucceeded
	for _, jobID := range run.Jobs {
		st, ok := jobStatuses[jobID]
		if !ok {
			st = JobStatus{Status: StatusBlocked}
		}
		if runPrecedence[st.Status] < runPrecedence[best] {
			best = st.Status
		}
	}
	return best
}
