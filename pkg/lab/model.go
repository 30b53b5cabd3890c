// Package lab holds the immutable in-memory representation of a repx
// lab: its jobs, runs, executables, and input wiring.
package lab

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// reservedRunIDs may never name a real Run or Job; a RunID equal to one
// of these is rejected at parse time.
var reservedRunIDs = map[string]bool{
	"missing": true,
	"pending": true,
}

// JobID is an opaque content-addressed job identifier of the form
// "<hash>-<slug>". Equality and ordering are over the full string.
type JobID string

// ShortID truncates the hash prefix to 7 characters for display. Labs
// that happen to have a shorter ID return it unchanged.
func (j JobID) ShortID() string {
	s := string(j)
	if i := strings.IndexByte(s, '-'); i > 0 {
		hash, rest := s[:i], s[i:]
		if len(hash) > 7 {
			hash = hash[:7]
		}
		return hash + rest
	}
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

func (j JobID) String() string { return string(j) }

// RunID is an opaque run identifier naming a named subset of a Lab's jobs.
type RunID string

// ParseRunID validates a user- or file-supplied run identifier, rejecting
// the reserved sentinel values "missing" and "pending".
func ParseRunID(s string) (RunID, error) {
	if reservedRunIDs[s] {
		return "", fmt.Errorf("run id %q is reserved and cannot be used", s)
	}
	return RunID(s), nil
}

func (r RunID) String() string { return string(r) }

// InputMapping describes how one entrypoint argument of an Executable is
// wired. Exactly one of the three binding shapes applies, disambiguated
// by which fields are populated (see Kind).
type InputMapping struct {
	// TargetInput names the key this mapping populates in inputs.json.
	TargetInput string `json:"target_input"`

	// Dependency binding.
	JobID        *JobID `json:"job_id,omitempty"`
	SourceOutput string `json:"source_output,omitempty"`

	// Global binding. MappingType == "global" is the general form; the
	// reserved TargetInput "store__base" is treated identically even
	// when MappingType is empty, matching the original's fallback rule.
	MappingType string `json:"mapping_type,omitempty"`

	// Run-metadata binding.
	SourceRun *RunID `json:"source_run,omitempty"`
}

// MappingKind enumerates the three InputMapping shapes a binding can take.
type MappingKind int

const (
	MappingUnknown MappingKind = iota
	MappingDependency
	MappingGlobal
	MappingRunMetadata
)

// Kind classifies this mapping by which fields are populated, mirroring
// repx-client/src/inputs.rs's if/else-if chain.
func (m InputMapping) Kind() MappingKind {
	switch {
	case m.JobID != nil && m.SourceOutput != "":
		return MappingDependency
	case m.MappingType == "global" || m.TargetInput == "store__base":
		return MappingGlobal
	case m.SourceRun != nil:
		return MappingRunMetadata
	default:
		return MappingUnknown
	}
}

// Executable is one role (main/scatter/worker/gather) of a Job.
type Executable struct {
	Path    string                 `json:"path"`
	Inputs  []InputMapping         `json:"inputs"`
	Outputs map[string]interface{} `json:"outputs"`
}

// OutputTemplate returns the string path template for a named output,
// failing if the output is absent or not a string: an Executable's
// outputs may also hold a non-string value, in which case consuming it
// as a dependency input fails rather than coercing it.
func (e Executable) OutputTemplate(name string) (string, error) {
	v, ok := e.Outputs[name]
	if !ok {
		return "", fmt.Errorf("output %q is not defined", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("output %q is not a string path template", name)
	}
	return s, nil
}

const stageTypeSimple = "simple"
const stageTypeScatterGather = "scatter-gather"

// Job is one node in the dependency graph.
type Job struct {
	Name        string                `json:"name,omitempty"`
	Params      json.RawMessage       `json:"params,omitempty"`
	StageType   string                `json:"stage_type"`
	Executables map[string]Executable `json:"executables"`

	// PathInLab is populated by Load; it is not part of metadata.json.
	PathInLab string `json:"-"`
}

// IsScatterGather reports whether the job is a three-phase composite job.
func (j Job) IsScatterGather() bool { return j.StageType == stageTypeScatterGather }

// EntrypointExecutable returns the executable used to determine a job's
// inputs.json and its batch dependency set: "scatter" for scatter-gather
// jobs, "main" otherwise.
func (j Job) EntrypointExecutable() (Executable, string, error) {
	name := "main"
	if j.IsScatterGather() {
		name = "scatter"
	}
	exe, ok := j.Executables[name]
	if !ok {
		return Executable{}, name, fmt.Errorf("job missing required executable %q", name)
	}
	return exe, name, nil
}

// OutputExecutable returns the executable whose Outputs other jobs
// consume as dependency inputs: "gather" for scatter-gather jobs, "main"
// otherwise (repx-client/src/inputs.rs).
func (j Job) OutputExecutable() (Executable, string, error) {
	name := "main"
	if j.IsScatterGather() {
		name = "gather"
	}
	exe, ok := j.Executables[name]
	if !ok {
		return Executable{}, name, fmt.Errorf("could not find output executable %q", name)
	}
	return exe, name, nil
}

// Validate checks the structural invariants a Job must satisfy in
// isolation: executable completeness for its declared stage type.
func (j Job) Validate() error {
	switch j.StageType {
	case stageTypeSimple:
		if _, ok := j.Executables["main"]; !ok {
			return fmt.Errorf("simple job must carry a %q executable", "main")
		}
	case stageTypeScatterGather:
		for _, req := range []string{"scatter", "worker", "gather"} {
			if _, ok := j.Executables[req]; !ok {
				return fmt.Errorf("scatter-gather job must carry a %q executable", req)
			}
		}
	default:
		return fmt.Errorf("unknown stage_type %q", j.StageType)
	}
	return nil
}

// AllDependencies returns the de-duplicated set of JobIDs referenced by
// any InputMapping across all of a Job's executables (main, scatter,
// worker, gather) -- the union used by build_dependency_closure.
func (j Job) AllDependencies() []JobID {
	seen := make(map[JobID]bool)
	var out []JobID
	for _, exe := range j.Executables {
		for _, m := range exe.Inputs {
			if m.JobID == nil {
				continue
			}
			if !seen[*m.JobID] {
				seen[*m.JobID] = true
				out = append(out, *m.JobID)
			}
		}
	}
	return out
}

// Run is a named subset of a Lab's jobs representing one experiment
// configuration.
type Run struct {
	Jobs         []JobID          `json:"jobs"`
	Image        string           `json:"image,omitempty"`
	Dependencies map[RunID]string `json:"dependencies,omitempty"`
}

// Lab is the immutable, content-addressed package of job definitions
// loaded from a directory on disk.
type Lab struct {
	SchemaVersion string        `json:"schema_version"`
	GitHash       string        `json:"revision"`
	ContentHash   string        `json:"-"`
	Runs          map[RunID]Run `json:"runs"`
	Jobs          map[JobID]Job `json:"jobs"`

	// HostToolsDirName names the subdirectory, relative to a target's
	// artifacts root, under which host-provided helper binaries (coreutils,
	// the runtime shims invoked by internal-execute) are synced. It is not
	// part of metadata.json; Load fixes it to the conventional value.
	HostToolsDirName string `json:"-"`
}

// Validate checks the lab-wide invariants: every InputMapping.job_id
// resolves, and every Run.Jobs entry resolves.
func (l *Lab) Validate() error {
	for jobID, job := range l.Jobs {
		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", jobID, err)
		}
		for _, dep := range job.AllDependencies() {
			if _, ok := l.Jobs[dep]; !ok {
				return fmt.Errorf("job %q references unknown dependency %q", jobID, dep)
			}
		}
	}
	for runID, run := range l.Runs {
		for _, jobID := range run.Jobs {
			if _, ok := l.Jobs[jobID]; !ok {
				return fmt.Errorf("run %q references unknown job %q", runID, jobID)
			}
		}
	}
	return nil
}

// JobOutputDir returns the path, relative to a target's base path, of a
// job's user-visible output directory: outputs/<job_id>/out.
func JobOutputDir(jobID JobID) string {
	return filepath.Join("outputs", string(jobID), "out")
}

// JobRepxDir returns outputs/<job_id>/repx, the directory holding
// inputs.json, outcome markers, and captured logs for a job.
func JobRepxDir(jobID JobID) string {
	return filepath.Join("outputs", string(jobID), "repx")
}
