// Package targets defines the uniform capability surface over a
// physical compute site: local execution or a remote SSH host.
// Concrete implementations live in the local and ssh
// subpackages; this package holds the shared interface and the
// transport-independent parsing helpers (squeue, outcome-marker scan)
// both implementations drive through their own command execution.
package targets

import (
	"context"
	"path"

	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/lab"
)

// SlurmState is a coarse SLURM job state as reported by squeue.
type SlurmState int

const (
	SlurmPending SlurmState = iota
	SlurmRunning
	SlurmOther
)

// SlurmJobInfo is one row of a queue snapshot.
type SlurmJobInfo struct {
	BatchID int
	JobID   lab.JobID
	State   SlurmState
	Raw     string // populated when State == SlurmOther
}

// Target is any site where jobs can run. Implementations must be
// thread-safe and clonable by handle; no code path outside the
// local/ssh packages themselves should branch on which concrete
// Target it holds -- everything else composes through this capability
// surface (a capability record, not a type-switched variant).
type Target interface {
	Name() string
	BasePath() string
	ArtifactsBasePath() string

	RunCommand(ctx context.Context, program string, args []string) (string, error)
	WriteRemoteFile(ctx context.Context, path string, content string) error
	SyncDirectory(ctx context.Context, localDir, remoteDir string) error
	SyncLabRoot(ctx context.Context, localLabPath string) error
	DeployRuntimeBinary(ctx context.Context) (string, error)
	ReadLogTail(ctx context.Context, path string, lines int) ([]string, error)

	CheckOutcomeMarkers(ctx context.Context) (map[lab.JobID]engine.JobStatus, error)
	QueueSnapshot(ctx context.Context) (map[lab.JobID]SlurmJobInfo, error)
	Cancel(ctx context.Context, batchID int) error
}

// ArtifactsBasePath computes the conventional artifacts root from a
// target's base path: base_path/artifacts.
func ArtifactsBasePath(basePath string) string {
	return path.Join(basePath, "artifacts")
}

// BuildOutcomeFindCommand returns the shell command used to enumerate
// SUCCESS/FAIL outcome markers under a target's outputs/ tree, matching
// repx-client/src/targets/mod.rs::check_outcome_markers exactly: a
// fixed-depth find rooted at outputs/, looking for the marker files
// inside a repx/ directory.
func BuildOutcomeFindCommand(outputsPath string) string {
	return "find " + outputsPath + ` -mindepth 3 -maxdepth 3 \( -name SUCCESS -o -name FAIL \) -path '*/repx/*'`
}

// ParseOutcomeMarkers turns the line-oriented output of
// BuildOutcomeFindCommand into a status map, tagging every entry with
// locationName (the Target's own Name()).
func ParseOutcomeMarkers(output string, locationName string) map[lab.JobID]engine.JobStatus {
	outcomes := make(map[lab.JobID]engine.JobStatus)
	for _, line := range splitLines(output) {
		if line == "" {
			continue
		}
		fileName := path.Base(line)
		repxDir := path.Dir(line)
		jobDir := path.Dir(repxDir)
		jobIDStr := path.Base(jobDir)

		var status engine.Status
		switch fileName {
		case "SUCCESS":
			status = engine.StatusSucceeded
		case "FAIL":
			status = engine.StatusFailed
		default:
			continue
		}
		outcomes[lab.JobID(jobIDStr)] = engine.JobStatus{Status: status, Location: locationName}
	}
	return outcomes
}

// BuildSqueueCommand returns the shell command used to list a user's
// pending/running batch jobs, matching targets/mod.rs::squeue exactly.
func BuildSqueueCommand(user string) string {
	return `squeue -h -o '%i %j %t' -u '` + user + `'`
}

// ParseSqueue parses squeue's "%i %j %t" output into a status map keyed
// by repx JobID (which squeue reports back verbatim as the %j job
// name), matching targets/mod.rs::parse_squeue.
func ParseSqueue(output string) map[lab.JobID]SlurmJobInfo {
	jobs := make(map[lab.JobID]SlurmJobInfo)
	for _, line := range splitLines(output) {
		parts := splitFields(line)
		if len(parts) < 3 {
			continue
		}
		batchID, ok := parseInt(parts[0])
		if !ok {
			continue
		}
		jobID := lab.JobID(parts[1])
		var state SlurmState
		raw := ""
		switch parts[2] {
		case "PD":
			state = SlurmPending
		case "R":
			state = SlurmRunning
		default:
			state = SlurmOther
			raw = parts[2]
		}
		jobs[jobID] = SlurmJobInfo{BatchID: batchID, JobID: jobID, State: state, Raw: raw}
	}
	return jobs
}
