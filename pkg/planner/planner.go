// Package planner implements the submission planner: given a set of
// jobs to run and a target, it resolves which jobs are already done,
// materializes each job's inputs.json, and either drives the local
// wave scheduler directly or generates and ships a SLURM orchestration
// plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/repx-org/repx/internal/config"
	"github.com/repx-org/repx/pkg/batchmap"
	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/events"
	"github.com/repx-org/repx/pkg/inputs"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
	"github.com/repx-org/repx/pkg/resources"
	"github.com/repx-org/repx/pkg/scheduler"
	"github.com/repx-org/repx/pkg/targets"
)

// Options configures one Submit call.
type Options struct {
	// ExecutionType overrides the resolved runtime for every job when
	// non-empty, matching SubmitOptions::execution_type.
	ExecutionType string
	Resources     resources.Config
	Concurrency   int
	Sender        events.Sender
}

// imageTagForJob returns the file-stem of the Run image that contains
// jobID, if any, matching client/local.rs's image_path_opt lookup.
func imageTagForJob(l *lab.Lab, jobID lab.JobID) string {
	for _, run := range l.Runs {
		for _, j := range run.Jobs {
			if j != jobID {
				continue
			}
			if run.Image == "" {
				return ""
			}
			base := path.Base(run.Image)
			return strings.TrimSuffix(base, path.Ext(base))
		}
	}
	return ""
}

// resolveExecutionType implements the execution_type resolution
// cascade: an explicit override wins; else a job with no image and no
// override runs "native"; else fall back to the target's
// default_execution_type (if declared for this scheduler) or its first
// declared execution type, or "native".
func resolveExecutionType(override string, imageTag string, schedulerExecutionTypes []string, defaultExecutionType string) string {
	if override != "" {
		return override
	}
	if imageTag == "" {
		return "native"
	}
	if defaultExecutionType != "" {
		for _, et := range schedulerExecutionTypes {
			if et == defaultExecutionType {
				return defaultExecutionType
			}
		}
	}
	if len(schedulerExecutionTypes) > 0 {
		return schedulerExecutionTypes[0]
	}
	return "native"
}

// validateMountConfig enforces the mutual exclusion between
// mount_host_paths and an explicit mount_paths list.
func validateMountConfig(t config.Target) error {
	if t.MountHostPaths && len(t.MountPaths) > 0 {
		return &repxerr.ConfigurationError{
			Message: "cannot specify both 'mount_host_paths = true' and 'mount_paths'",
		}
	}
	return nil
}

// filterAlreadySucceeded drops jobs already Succeeded, mirroring
// client/local.rs's pre-population of completed_jobs from the target's
// observed outcome markers.
func filterAlreadySucceeded(l *lab.Lab, jobIDs []lab.JobID, observed map[lab.JobID]engine.JobStatus) []lab.JobID {
	statuses := engine.Determine(l, observed)
	var out []lab.JobID
	for _, id := range jobIDs {
		if st, ok := statuses[id]; ok && st.Status == engine.StatusSucceeded {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Submit runs (or resumes) jobIDs against target: it deploys the
// runtime binary, syncs the lab's artifacts, generates each job's
// inputs.json, skips jobs already Succeeded, and dispatches the
// remainder through the scheduler appropriate to targetCfg.Scheduler.
func Submit(
	ctx context.Context,
	l *lab.Lab,
	localLabPath string,
	jobIDs []lab.JobID,
	target targets.Target,
	targetCfg config.Target,
	opts Options,
	bmap *batchmap.Map,
) (string, error) {
	if err := validateMountConfig(targetCfg); err != nil {
		return "", err
	}

	send := opts.Sender

	send.Send(events.Event{Kind: events.DeployingBinary})
	remoteBinaryPath, err := target.DeployRuntimeBinary(ctx)
	if err != nil {
		return "", err
	}

	send.Send(events.Event{Kind: events.SyncingArtifacts, Path: localLabPath})
	if err := target.SyncLabRoot(ctx, localLabPath); err != nil {
		return "", err
	}
	send.Send(events.Event{Kind: events.SyncingFinished})

	observed, err := target.CheckOutcomeMarkers(ctx)
	if err != nil {
		return "", err
	}
	toSubmit := filterAlreadySucceeded(l, jobIDs, observed)
	if len(toSubmit) == 0 {
		return "all requested jobs already succeeded; nothing to submit", nil
	}

	jobSet := make(map[lab.JobID]bool, len(toSubmit))
	for _, id := range toSubmit {
		jobSet[id] = true
	}

	for _, jobID := range toSubmit {
		if err := inputs.Generate(ctx, l, localLabPath, jobID, target); err != nil {
			return "", fmt.Errorf("generating inputs for job %q: %w", jobID, err)
		}
	}

	if targetCfg.Scheduler == "slurm" {
		return submitSlurm(ctx, l, toSubmit, jobSet, target, targetCfg, remoteBinaryPath, opts, bmap)
	}
	return submitLocal(ctx, l, toSubmit, jobSet, target, targetCfg, remoteBinaryPath, opts)
}

func dependenciesInBatch(job lab.Job, jobSet map[lab.JobID]bool) []lab.JobID {
	entrypoint, _, err := job.EntrypointExecutable()
	if err != nil {
		return nil
	}
	var out []lab.JobID
	seen := make(map[lab.JobID]bool)
	for _, m := range entrypoint.Inputs {
		if m.JobID == nil || !jobSet[*m.JobID] || seen[*m.JobID] {
			continue
		}
		seen[*m.JobID] = true
		out = append(out, *m.JobID)
	}
	return out
}

func submitLocal(
	ctx context.Context,
	l *lab.Lab,
	toSubmit []lab.JobID,
	jobSet map[lab.JobID]bool,
	target targets.Target,
	targetCfg config.Target,
	remoteBinaryPath string,
	opts Options,
) (string, error) {
	send := opts.Sender
	send.Send(events.Event{Kind: events.SubmittingJobs, Total: len(toSubmit)})

	schedulerExecTypes := []string{}
	if targetCfg.Slurm != nil {
		schedulerExecTypes = targetCfg.Slurm.ExecutionTypes
	}

	deps := func(jobID lab.JobID) []lab.JobID {
		job := l.Jobs[jobID]
		return dependenciesInBatch(job, jobSet)
	}
	schedulable := func(jobID lab.JobID) bool {
		return l.Jobs[jobID].StageType != "worker" && l.Jobs[jobID].StageType != "gather"
	}
	cmdFn := func(jobID lab.JobID) (*exec.Cmd, error) {
		imageTag := imageTagForJob(l, jobID)
		execType := resolveExecutionType(opts.ExecutionType, imageTag, schedulerExecTypes, targetCfg.DefaultExecutionType)

		inv, err := BuildInvocation(
			l, jobID,
			targetCfg.BasePath, target.ArtifactsBasePath(),
			execType, imageTag,
			targetCfg.NodeLocalPath, targetCfg.MountHostPaths, targetCfg.MountPaths,
			"local", "",
		)
		if err != nil {
			return nil, err
		}
		return exec.CommandContext(ctx, remoteBinaryPath, inv.Args()...), nil
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = targetCfg.LocalConcurrency
	}

	err := scheduler.Run(ctx, toSubmit, deps, schedulable, cmdFn, scheduler.Options{
		Concurrency: concurrency,
		Sender:      send,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("successfully executed %d jobs locally", len(toSubmit)), nil
}

func submitSlurm(
	ctx context.Context,
	l *lab.Lab,
	toSubmit []lab.JobID,
	jobSet map[lab.JobID]bool,
	target targets.Target,
	targetCfg config.Target,
	remoteBinaryPath string,
	opts Options,
	bmap *batchmap.Map,
) (string, error) {
	send := opts.Sender
	send.Send(events.Event{Kind: events.GeneratingBatchScripts, NumJobs: len(toSubmit)})

	cacheDir, err := config.XDGCacheDir()
	if err != nil {
		return "", err
	}
	// A bootstrap lab loaded from a bare metadata.json has no content
	// hash to key its submission directory; fall back to a per-call
	// unique name so concurrent submissions cannot collide.
	labHash := l.ContentHash
	if labHash == "" {
		labHash = "bootstrap-" + uuid.NewString()
	}
	localBatchDir := filepath.Join(cacheDir, "submissions", labHash)

	schedulerExecTypes := []string{}
	if targetCfg.Slurm != nil {
		schedulerExecTypes = targetCfg.Slurm.ExecutionTypes
	}

	plan := NewOrchestrationPlan(targetCfg.BasePath, labHash)

	for _, jobID := range toSubmit {
		job := l.Jobs[jobID]
		imageTag := imageTagForJob(l, jobID)
		execType := resolveExecutionType(opts.ExecutionType, imageTag, schedulerExecTypes, targetCfg.DefaultExecutionType)

		var workerOpts string
		var directives resources.Directives
		if job.IsScatterGather() {
			directives = resources.ResolveForJob(opts.Resources, jobID, target.Name())
			workerDirectives := resources.ResolveWorkerResources(opts.Resources, jobID, target.Name())
			workerOpts = workerDirectives.ToShellString()
		} else {
			directives = resources.ResolveForJob(opts.Resources, jobID, target.Name())
		}

		inv, err := BuildInvocation(
			l, jobID,
			targetCfg.BasePath, target.ArtifactsBasePath(),
			execType, imageTag,
			targetCfg.NodeLocalPath, targetCfg.MountHostPaths, targetCfg.MountPaths,
			"slurm", workerOpts,
		)
		if err != nil {
			return "", err
		}

		command := inv.ShellString(remoteBinaryPath)
		if job.IsScatterGather() {
			command += " --anchor-id $REPX_ANCHOR_ID"
		}

		jobRoot := path.Join(targetCfg.BasePath, "outputs", string(jobID))
		script := GenerateInvokerScript(jobID, jobRoot, directives, command)
		hash := ScriptHash(script)
		if _, err := WriteScriptIfAbsent(localBatchDir, hash, script); err != nil {
			return "", err
		}

		if err := plan.AddJob(jobID, job, hash, jobSet); err != nil {
			return "", err
		}
	}

	planContent, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", err
	}
	planPath := filepath.Join(localBatchDir, "plan.json")
	if err := os.WriteFile(planPath, planContent, 0o644); err != nil {
		return "", err
	}

	send.Send(events.Event{Kind: events.ExecutingOrchestrator})
	send.Send(events.Event{Kind: events.SubmittingJobs, Total: len(toSubmit)})

	remoteSubmissionsDir := path.Join(targetCfg.BasePath, "submissions", labHash)
	if err := target.SyncDirectory(ctx, localBatchDir, remoteSubmissionsDir); err != nil {
		return "", err
	}

	orchestrateCmd := fmt.Sprintf("%s internal-orchestrate %s", remoteBinaryPath, path.Join(remoteSubmissionsDir, "plan.json"))
	output, err := target.RunCommand(ctx, "sh", []string{"-c", orchestrateCmd})
	if err != nil {
		return "", &repxerr.OrchestratorFailedError{Stderr: err.Error()}
	}
	logrus.WithField("target", target.Name()).Debug("orchestrator raw output:\n" + output)

	submitted := 0
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		batchID, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		jobID := lab.JobID(parts[0])
		if err := bmap.Insert(jobID, batchmap.Entry{Target: target.Name(), BatchID: batchID}); err != nil {
			return "", err
		}
		submitted++
		send.Send(events.Event{Kind: events.JobSubmitted, JobID: jobID, BatchID: batchID, Total: len(toSubmit), Current: submitted})
	}

	return fmt.Sprintf("successfully submitted %d jobs via SLURM orchestrator", submitted), nil
}
