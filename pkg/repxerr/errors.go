// Package repxerr defines the error taxonomy shared by every repx component.
package repxerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions with no associated structured data.
// Callers compare with errors.Is.
var (
	ErrUserAborted        = errors.New("operation aborted by user")
	ErrNoSubmissionTarget = errors.New("no submission target configured")
	ErrStoreNotConfigured = errors.New("no result store is configured")
)

// TargetNotFoundError reports that a run/job identifier matched nothing.
type TargetNotFoundError struct {
	Input string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("input %q did not match any known run or job", e.Input)
}

// AmbiguousJobIDError reports that a prefix matched more than one JobID.
type AmbiguousJobIDError struct {
	Input   string
	Matches []string
}

func (e *AmbiguousJobIDError) Error() string {
	msg := fmt.Sprintf("ambiguous input %q, matches:", e.Input)
	for _, m := range e.Matches {
		msg += fmt.Sprintf("\n  - %s", m)
	}
	return msg
}

// AmbiguousRunError reports that a Run has more than one final (sink) job.
type AmbiguousRunError struct {
	Input     string
	FinalJobs []string
}

func (e *AmbiguousRunError) Error() string {
	return fmt.Sprintf("run %q is ambiguous, it has multiple final jobs: %v", e.Input, e.FinalJobs)
}

// CycleDetectedError reports that a set of jobs could not be fully
// decomposed into topological waves.
type CycleDetectedError struct {
	Remaining []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected among jobs: %v", e.Remaining)
}

// ExecutionFailedError reports a non-zero exit from a dispatched job or
// transport subprocess.
type ExecutionFailedError struct {
	Message    string
	LogPath    string
	LogSummary string
}

func (e *ExecutionFailedError) Error() string {
	if e.LogSummary == "" {
		return e.Message
	}
	return fmt.Sprintf("%s\n%s", e.Message, e.LogSummary)
}

// OrchestratorFailedError reports that the remote SLURM orchestrator
// process itself failed (as opposed to an individual submitted job).
type OrchestratorFailedError struct {
	Stderr string
}

func (e *OrchestratorFailedError) Error() string {
	return fmt.Sprintf("orchestrator script failed on target: %s", e.Stderr)
}

// JobPackageIOError reports that a job's package directory or one of its
// executables could not be accessed on a target.
type JobPackageIOError struct {
	JobID string
	Path  string
	Err   error
}

func (e *JobPackageIOError) Error() string {
	return fmt.Sprintf("could not access job package for %q at %q: %v", e.JobID, e.Path, e.Err)
}

func (e *JobPackageIOError) Unwrap() error { return e.Err }

// ProcessLaunchFailedError reports that a required transport binary
// (ssh, scp, rsync, sbatch, ...) could not be launched at all.
type ProcessLaunchFailedError struct {
	CommandName string
	Err         error
}

func (e *ProcessLaunchFailedError) Error() string {
	return fmt.Sprintf(
		"failed to launch required command %q: %v\n\n"+
			"if the error is 'executable file not found', ensure %q is installed and on PATH",
		e.CommandName, e.Err, e.CommandName,
	)
}

func (e *ProcessLaunchFailedError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid or inconsistent configuration.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// LabNotFoundError reports that no lab directory exists at the given path.
type LabNotFoundError struct {
	Path string
}

func (e *LabNotFoundError) Error() string {
	return fmt.Sprintf(
		"lab not found at path %q; specify a valid lab directory with --lab", e.Path,
	)
}

// MetadataNotFoundError reports a lab directory missing metadata.json.
type MetadataNotFoundError struct {
	Path string
}

func (e *MetadataNotFoundError) Error() string {
	return fmt.Sprintf("could not find metadata.json in %q or its revision subdirectory", e.Path)
}

// JobNotFoundError reports a JobID referenced but absent from the lab.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %q not found in the lab definition", e.JobID)
}
