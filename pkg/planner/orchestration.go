package planner

import (
	"path/filepath"

	"github.com/repx-org/repx/pkg/lab"
)

// JobPlan is one job's entry in an OrchestrationPlan: the hash-keyed
// script to submit and the in-batch dependencies that must be
// translated into a --dependency=afterok clause, mirroring
// orchestration.rs's JobPlan exactly.
type JobPlan struct {
	ScriptHash   string      `json:"script_hash"`
	Dependencies []lab.JobID `json:"dependencies"`
	JobType      string      `json:"job_type,omitempty"`
}

// OrchestrationPlan is the serialized handoff between the submitting
// machine and the remote orchestrator process: where the generated
// SBATCH scripts live, and the dependency edges restricted to the
// current batch.
type OrchestrationPlan struct {
	SubmissionsDir string                `json:"submissions_dir"`
	Jobs           map[lab.JobID]JobPlan `json:"jobs"`
}

// NewOrchestrationPlan creates an empty plan rooted at
// <basePath>/submissions/<labContentHash>, matching
// OrchestrationPlan::new.
func NewOrchestrationPlan(basePath, labContentHash string) *OrchestrationPlan {
	return &OrchestrationPlan{
		SubmissionsDir: filepath.Join(basePath, "submissions", labContentHash),
		Jobs:           make(map[lab.JobID]JobPlan),
	}
}

// AddJob records jobID's plan entry, restricting its dependency list to
// jobs present in batchJobs -- a dependency already satisfied outside
// the current batch needs no SLURM dependency clause.
func (p *OrchestrationPlan) AddJob(jobID lab.JobID, job lab.Job, scriptHash string, batchJobs map[lab.JobID]bool) error {
	entrypoint, _, err := job.EntrypointExecutable()
	if err != nil {
		return err
	}

	var deps []lab.JobID
	seen := make(map[lab.JobID]bool)
	for _, m := range entrypoint.Inputs {
		if m.JobID == nil || !batchJobs[*m.JobID] || seen[*m.JobID] {
			continue
		}
		seen[*m.JobID] = true
		deps = append(deps, *m.JobID)
	}

	p.Jobs[jobID] = JobPlan{
		ScriptHash:   scriptHash,
		Dependencies: deps,
		JobType:      job.StageType,
	}
	return nil
}

// ScriptPath returns the on-disk path of the SBATCH script identified by
// scriptHash, rooted at p.SubmissionsDir -- the path the orchestrator
// passes to sbatch.
func (p *OrchestrationPlan) ScriptPath(scriptHash string) string {
	return filepath.Join(p.SubmissionsDir, scriptHash+".sbatch")
}
