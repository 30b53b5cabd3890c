// Package graph implements the dependency-closure and topological-wave
// operations shared by the submission planner, local scheduler, and
// SLURM orchestrator.
package graph

import (
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

// DependencyFunc returns the direct dependencies of a job, scoped to
// whatever job set the caller cares about.
type DependencyFunc func(lab.JobID) []lab.JobID

// BuildDependencyClosure returns every transitive dependency of job,
// deepest-first, with job itself last -- a valid topological order: for
// any two members a, b, if a is a dependency of b then a appears before
// b. This replaces the original Rust build_dependency_graph, which
// collected nodes via preorder DFS and then reversed the list; that is
// not a valid topological sort for every DAG shape (a node can be
// visited, via one branch, before a sibling branch that is also its
// ancestor finishes being discovered). This implementation instead
// performs a standard postorder DFS, which is topologically valid by
// construction.
func BuildDependencyClosure(deps DependencyFunc, job lab.JobID) []lab.JobID {
	visited := sets.String{}
	var order []lab.JobID

	var visit func(j lab.JobID)
	visit = func(j lab.JobID) {
		if visited.Has(string(j)) {
			return
		}
		visited.Insert(string(j))
		for _, d := range deps(j) {
			visit(d)
		}
		order = append(order, j)
	}
	visit(job)
	return order
}

// TopologicalWaves decomposes jobs into layers: each wave contains every
// job whose dependencies are already satisfied by an earlier wave or lie
// outside the set entirely. Within a wave, order is ascending by JobID
// string for determinism. If jobs remain but the next wave would be
// empty, returns a CycleDetectedError naming the sorted remainder.
func TopologicalWaves(jobs []lab.JobID, deps DependencyFunc) ([][]lab.JobID, error) {
	inSet := sets.String{}
	for _, j := range jobs {
		inSet.Insert(string(j))
	}

	remaining := sets.String{}
	remaining.Insert(inSet.List()...)
	placed := sets.String{}

	var waves [][]lab.JobID
	for remaining.Len() > 0 {
		var wave []lab.JobID
		for _, jStr := range remaining.List() {
			j := lab.JobID(jStr)
			ready := true
			for _, d := range deps(j) {
				if inSet.Has(string(d)) && !placed.Has(string(d)) {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, j)
			}
		}

		if len(wave) == 0 {
			remainder := remaining.List()
			sort.Strings(remainder)
			return waves, &repxerr.CycleDetectedError{Remaining: remainder}
		}

		sort.Slice(wave, func(i, k int) bool { return wave[i] < wave[k] })
		for _, j := range wave {
			remaining.Delete(string(j))
			placed.Insert(string(j))
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// LabDependencyFunc returns the DependencyFunc view of a loaded Lab: the
// union of every InputMapping.job_id across all of a job's executables.
func LabDependencyFunc(l *lab.Lab) DependencyFunc {
	return func(j lab.JobID) []lab.JobID {
		job, ok := l.Jobs[j]
		if !ok {
			return nil
		}
		return job.AllDependencies()
	}
}
