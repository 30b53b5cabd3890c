// Package resolver maps user-entered run or job identifiers to concrete
// JobID sets, and extracts the final (sink) jobs of a Run.
package resolver

import (
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

// finalJobsOfRun returns the jobs in run that do not appear as a
// dependency of another job in the same run -- the sinks.
func finalJobsOfRun(l *lab.Lab, run lab.Run) []lab.JobID {
	runJobs := sets.String{}
	for _, j := range run.Jobs {
		runJobs.Insert(string(j))
	}

	depsInRun := sets.String{}
	for _, jobID := range run.Jobs {
		job, ok := l.Jobs[jobID]
		if !ok {
			continue
		}
		for _, dep := range job.AllDependencies() {
			if runJobs.Has(string(dep)) {
				depsInRun.Insert(string(dep))
			}
		}
	}

	var final []lab.JobID
	for _, jobID := range run.Jobs {
		if !depsInRun.Has(string(jobID)) {
			final = append(final, jobID)
		}
	}
	sort.Slice(final, func(i, j int) bool { return final[i] < final[j] })
	return final
}

// ResolveFinalJobIDs implements repx-client/src/resolver.rs's
// resolve_final_job_ids: if input names a Run, return that run's sink
// jobs. Otherwise, treat input as a JobID prefix: zero matches is
// TargetNotFound, more than one is AmbiguousJobID.
func ResolveFinalJobIDs(l *lab.Lab, input string) ([]lab.JobID, error) {
	if run, ok := l.Runs[lab.RunID(input)]; ok {
		return finalJobsOfRun(l, run), nil
	}
	return resolveByPrefix(l, input)
}

// ResolveTargetJobID implements resolve_target_job_id: like
// ResolveFinalJobIDs, but requires the Run resolve to exactly one sink
// job (returning AmbiguousRunError listing all sinks otherwise), since a
// single submission target job is required.
func ResolveTargetJobID(l *lab.Lab, input string) (lab.JobID, error) {
	if run, ok := l.Runs[lab.RunID(input)]; ok {
		final := finalJobsOfRun(l, run)
		if len(final) == 1 {
			return final[0], nil
		}
		var names []string
		for _, j := range final {
			names = append(names, string(j))
		}
		return "", &repxerr.AmbiguousRunError{Input: input, FinalJobs: names}
	}

	matches, err := resolveByPrefix(l, input)
	if err != nil {
		return "", err
	}
	return matches[0], nil
}

func resolveByPrefix(l *lab.Lab, input string) ([]lab.JobID, error) {
	// An exact JobID wins outright, even when it is also a strict
	// prefix of other IDs.
	if _, ok := l.Jobs[lab.JobID(input)]; ok {
		return []lab.JobID{lab.JobID(input)}, nil
	}

	var matches []lab.JobID
	for jobID := range l.Jobs {
		if hasPrefix(string(jobID), input) {
			matches = append(matches, jobID)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] < matches[j] })

	switch len(matches) {
	case 0:
		return nil, &repxerr.TargetNotFoundError{Input: input}
	case 1:
		return matches, nil
	default:
		var names []string
		for _, j := range matches {
			names = append(names, string(j))
		}
		return nil, &repxerr.AmbiguousJobIDError{Input: input, Matches: names}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
