package planner

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/repx-org/repx/pkg/lab"
)

// Invocation captures everything needed to build the repx-runner command
// line for one job, independent of which scheduler will carry it:
// internal-execute for a simple job, internal-scatter-gather for a
// scatter-gather job. This mirrors the args-building block shared (with
// minor local-vs-slurm formatting differences) by client/local.rs and
// client/slurm.rs.
type Invocation struct {
	JobID            lab.JobID
	StageType        string
	ExecutionType    string
	ImageTag         string
	BasePath         string
	HostToolsDirName string
	NodeLocalPath    string
	MountHostPaths   bool
	MountPaths       []string

	// Simple-job fields.
	ExecutablePath string

	// Scatter-gather fields.
	JobPackagePath    string
	ScatterExePath    string
	WorkerExePath     string
	GatherExePath     string
	WorkerOutputsJSON string
	Scheduler         string // "local" or "slurm"
	WorkerSBatchOpts  string
}

// BuildInvocation assembles an Invocation for jobID from the lab
// definition and the resolved execution parameters, following the shape
// client/local.rs and client/slurm.rs both derive per job.
func BuildInvocation(
	l *lab.Lab,
	jobID lab.JobID,
	targetBasePath string,
	targetArtifactsBasePath string,
	executionType string,
	imageTag string,
	nodeLocalPath string,
	mountHostPaths bool,
	mountPaths []string,
	scheduler string,
	workerOpts string,
) (Invocation, error) {
	job, ok := l.Jobs[jobID]
	if !ok {
		return Invocation{}, fmt.Errorf("job %q not found in lab", jobID)
	}

	inv := Invocation{
		JobID:            jobID,
		StageType:        job.StageType,
		ExecutionType:    executionType,
		ImageTag:         imageTag,
		BasePath:         targetBasePath,
		HostToolsDirName: l.HostToolsDirName,
		NodeLocalPath:    nodeLocalPath,
		MountHostPaths:   mountHostPaths,
		MountPaths:       mountPaths,
		Scheduler:        scheduler,
		WorkerSBatchOpts: workerOpts,
	}

	if job.IsScatterGather() {
		scatterExe, ok := job.Executables["scatter"]
		if !ok {
			return Invocation{}, fmt.Errorf("job %q: missing scatter executable", jobID)
		}
		workerExe, ok := job.Executables["worker"]
		if !ok {
			return Invocation{}, fmt.Errorf("job %q: missing worker executable", jobID)
		}
		gatherExe, ok := job.Executables["gather"]
		if !ok {
			return Invocation{}, fmt.Errorf("job %q: missing gather executable", jobID)
		}

		outputsJSON, err := json.Marshal(workerExe.Outputs)
		if err != nil {
			return Invocation{}, fmt.Errorf("job %q: marshaling worker outputs: %w", jobID, err)
		}

		inv.JobPackagePath = path.Join(targetArtifactsBasePath, "jobs", string(jobID))
		inv.ScatterExePath = path.Join(targetArtifactsBasePath, scatterExe.Path)
		inv.WorkerExePath = path.Join(targetArtifactsBasePath, workerExe.Path)
		inv.GatherExePath = path.Join(targetArtifactsBasePath, gatherExe.Path)
		inv.WorkerOutputsJSON = string(outputsJSON)
	} else {
		mainExe, ok := job.Executables["main"]
		if !ok {
			return Invocation{}, fmt.Errorf("job %q: missing main executable", jobID)
		}
		inv.ExecutablePath = path.Join(targetArtifactsBasePath, mainExe.Path)
	}

	return inv, nil
}

// Args renders the subcommand and flags for the repx-runner binary, in
// the flag-per-element form the local scheduler feeds directly to
// exec.Command.
func (inv Invocation) Args() []string {
	var args []string
	if inv.StageType == "scatter-gather" {
		args = append(args, "internal-scatter-gather")
	} else {
		args = append(args, "internal-execute")
	}

	args = append(args, "--job-id", string(inv.JobID))
	args = append(args, "--runtime", inv.ExecutionType)
	if inv.ImageTag != "" {
		args = append(args, "--image-tag", inv.ImageTag)
	}
	args = append(args, "--base-path", inv.BasePath)
	if inv.NodeLocalPath != "" {
		args = append(args, "--node-local-path", inv.NodeLocalPath)
	}
	args = append(args, "--host-tools-dir", inv.HostToolsDirName)

	if inv.MountHostPaths {
		args = append(args, "--mount-host-paths")
	} else {
		for _, p := range inv.MountPaths {
			args = append(args, "--mount-paths", p)
		}
	}

	if inv.StageType == "scatter-gather" {
		args = append(args,
			"--job-package-path", inv.JobPackagePath,
			"--scatter-exe-path", inv.ScatterExePath,
			"--worker-exe-path", inv.WorkerExePath,
			"--gather-exe-path", inv.GatherExePath,
			"--worker-outputs-json", inv.WorkerOutputsJSON,
			"--scheduler", inv.Scheduler,
			"--worker-sbatch-opts", inv.WorkerSBatchOpts,
		)
	} else {
		args = append(args, "--executable-path", inv.ExecutablePath)
	}

	return args
}

// ShellString renders the same invocation as a single shell-safe
// command line, for embedding inside a generated SBATCH script.
func (inv Invocation) ShellString(repxCommand string) string {
	s := repxCommand
	for _, a := range inv.Args() {
		s += " " + shellQuote(a)
	}
	return s
}

func shellQuote(s string) string {
	safe := true
	for _, r := range s {
		if !(r == '-' || r == '_' || r == '/' || r == '.' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe && s != "" {
		return s
	}
	quoted := ""
	for _, r := range s {
		if r == '\'' {
			quoted += `'\''`
		} else {
			quoted += string(r)
		}
	}
	return "'" + quoted + "'"
}
