// Package scattergather implements the Scatter-Gather Driver (C11, spec
// §4.9): the composite three-phase execution of a job whose main is
// split into scatter -> N parallel worker -> gather, dispatching the
// worker fan-out onto either the local host or a SLURM cluster.
// Grounded on repx-runner/src/commands/scatter_gather.rs.
package scattergather

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/repx-org/repx/pkg/executor"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

// sacctPollInterval is the wait between queue-state polls while workers
// are in flight on SLURM, matching scatter_gather.rs's
// tokio::time::sleep(Duration::from_secs(5)).
const sacctPollInterval = 5 * time.Second

// Request configures one scatter-gather execution.
type Request struct {
	JobID             lab.JobID
	Runtime           executor.Runtime
	BasePath          string
	JobPackagePath    string
	ScatterExePath    string
	WorkerExePath     string
	GatherExePath     string
	WorkerOutputsJSON string // JSON object: output name -> "$out"-templated path
	Scheduler         string // "local" or "slurm"
	WorkerSBatchOpts  string
	HostToolsBinDir   string
}

// Driver owns the on-disk layout and phase sequencing for one
// scatter-gather job execution.
type Driver struct {
	req Request

	jobRoot        string
	userOutDir     string
	repxDir        string
	scatterTempDir string
	inputsJSONPath string
	staticInputs   map[string]interface{}
}

// New constructs a Driver for req, deriving the fixed on-target layout
// from req.BasePath and req.JobID: outputs/<job_id>/{out,repx,scatter_temp}.
func New(req Request) *Driver {
	jobRoot := filepath.Join(req.BasePath, "outputs", string(req.JobID))
	repxDir := filepath.Join(jobRoot, "repx")
	return &Driver{
		req:            req,
		jobRoot:        jobRoot,
		userOutDir:     filepath.Join(jobRoot, "out"),
		repxDir:        repxDir,
		scatterTempDir: filepath.Join(jobRoot, "scatter_temp"),
		inputsJSONPath: filepath.Join(repxDir, "inputs.json"),
	}
}

func (d *Driver) initDirs() error {
	for _, dir := range []string{d.userOutDir, d.repxDir, d.scatterTempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	os.Remove(filepath.Join(d.repxDir, "SUCCESS"))
	os.Remove(filepath.Join(d.repxDir, "FAIL"))

	d.staticInputs = map[string]interface{}{}
	if data, err := os.ReadFile(d.inputsJSONPath); err == nil {
		if err := json.Unmarshal(data, &d.staticInputs); err != nil {
			return fmt.Errorf("parsing %s: %w", d.inputsJSONPath, err)
		}
	}
	return nil
}

func (d *Driver) newExecutor(userOut, repxOut string) *executor.Executor {
	return executor.New(executor.Request{
		JobID:           d.req.JobID,
		Runtime:         d.req.Runtime,
		BasePath:        d.req.BasePath,
		JobPackagePath:  d.req.JobPackagePath,
		UserOutDir:      userOut,
		RepxOutDir:      repxOut,
		HostToolsBinDir: d.req.HostToolsBinDir,
	})
}

// Run executes scatter, the worker fan-out, and gather in sequence,
// writing the job's terminal SUCCESS or FAIL marker before returning.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.initDirs(); err != nil {
		return err
	}

	logrus.WithField("job_id", d.req.JobID).Info("orchestrating scatter-gather stage")

	if err := d.runScatter(ctx); err != nil {
		d.markFail()
		return err
	}

	workItems, err := d.readWorkItems()
	if err != nil {
		d.markFail()
		return err
	}

	var workerOutDirs []string
	switch d.req.Scheduler {
	case "local":
		workerOutDirs, err = d.runLocalWorkers(ctx, workItems)
	case "slurm":
		workerOutDirs, err = d.runSlurmWorkers(ctx, workItems)
	default:
		err = &repxerr.ConfigurationError{Message: fmt.Sprintf("unknown scheduler %q", d.req.Scheduler)}
	}
	if err != nil {
		d.markFail()
		return err
	}

	if err := d.runGather(ctx, workerOutDirs); err != nil {
		d.markFail()
		return err
	}

	return d.markSuccess()
}

func (d *Driver) markFail() {
	f, err := os.Create(filepath.Join(d.repxDir, "FAIL"))
	if err == nil {
		f.Close()
	}
}

func (d *Driver) markSuccess() error {
	f, err := os.Create(filepath.Join(d.repxDir, "SUCCESS"))
	if err != nil {
		return err
	}
	return f.Close()
}

// runScatter invokes the job's scatter executable with
// [scatter_temp_dir, inputs.json], expecting it to write
// scatter_temp_dir/work_items.json.
func (d *Driver) runScatter(ctx context.Context) error {
	logrus.WithField("job_id", d.req.JobID).Info("[1/4] starting scatter phase")
	ex := d.newExecutor(d.scatterTempDir, d.repxDir)
	args := []string{d.scatterTempDir, d.inputsJSONPath}
	if err := ex.ExecuteScript(ctx, d.req.ScatterExePath, args); err != nil {
		return fmt.Errorf("scatter phase failed for job %q: %w", d.req.JobID, err)
	}
	return nil
}

func (d *Driver) readWorkItems() ([]json.RawMessage, error) {
	logrus.WithField("job_id", d.req.JobID).Info("[2/4] scatter finished, preparing workers")
	data, err := os.ReadFile(filepath.Join(d.scatterTempDir, "work_items.json"))
	if err != nil {
		return nil, fmt.Errorf("reading work_items.json for job %q: %w", d.req.JobID, err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing work_items.json for job %q: %w", d.req.JobID, err)
	}
	return items, nil
}

// prepareWorker creates worker-<idx>'s {out,repx} directories and
// writes its work_item.json and inputs.json (the job's static inputs
// plus worker__item), returning (workerOutDir, workerRepxDir, workerInputsPath).
func (d *Driver) prepareWorker(idx int, item json.RawMessage) (string, string, string, error) {
	workerRoot := filepath.Join(d.jobRoot, fmt.Sprintf("worker-%d", idx))
	workerOut := filepath.Join(workerRoot, "out")
	workerRepx := filepath.Join(workerRoot, "repx")
	if err := os.MkdirAll(workerOut, 0o755); err != nil {
		return "", "", "", err
	}
	if err := os.MkdirAll(workerRepx, 0o755); err != nil {
		return "", "", "", err
	}

	itemPath := filepath.Join(workerRepx, "work_item.json")
	if err := os.WriteFile(itemPath, item, 0o644); err != nil {
		return "", "", "", err
	}

	inputs := make(map[string]interface{}, len(d.staticInputs)+1)
	for k, v := range d.staticInputs {
		inputs[k] = v
	}
	inputs["worker__item"] = itemPath

	inputsPath := filepath.Join(workerRepx, "inputs.json")
	content, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return "", "", "", err
	}
	if err := os.WriteFile(inputsPath, content, 0o644); err != nil {
		return "", "", "", err
	}

	return workerOut, workerRepx, inputsPath, nil
}

// runLocalWorkers dispatches every work item as one errgroup task,
// awaiting all concurrently (no concurrency cap: the original spawns
// one tokio task per item and join_all's them, and the fleet of
// worker-<i> directories is bounded by the scatter output already on
// disk). Every failing worker's error is collected via go-multierror
// rather than just the first -- a deliberate departure from the
// original's first-error-wins join_all loop -- so a caller diagnosing a
// fan-out failure sees every worker that failed, not only whichever
// happened to be reaped first.
func (d *Driver) runLocalWorkers(ctx context.Context, workItems []json.RawMessage) ([]string, error) {
	outDirs := make([]string, len(workItems))
	var eg errgroup.Group
	var errsMu sync.Mutex
	var errs error

	for i, item := range workItems {
		i, item := i, item
		workerOut, workerRepx, workerInputs, err := d.prepareWorker(i, item)
		if err != nil {
			return nil, err
		}
		outDirs[i] = workerOut

		eg.Go(func() error {
			ex := d.newExecutor(workerOut, workerRepx)
			args := []string{workerOut, workerInputs}
			if err := ex.ExecuteScript(ctx, d.req.WorkerExePath, args); err != nil {
				errsMu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("local worker #%d failed: %w", i, err))
				errsMu.Unlock()
			}
			return nil
		})
	}

	logrus.WithFields(logrus.Fields{"job_id": d.req.JobID, "num_workers": len(workItems)}).
		Info("[3/4] waiting for local worker jobs to complete")
	_ = eg.Wait()

	if errs != nil {
		return nil, errs
	}
	return outDirs, nil
}

// runSlurmWorkers submits every worker via sbatch --wrap, then polls
// sacct every 5 seconds until every worker reports "completed" or any
// reports "failed"/"cancelled".
func (d *Driver) runSlurmWorkers(ctx context.Context, workItems []json.RawMessage) ([]string, error) {
	outDirs := make([]string, len(workItems))
	batchIDs := make([]string, 0, len(workItems))

	for i, item := range workItems {
		workerOut, workerRepx, workerInputs, err := d.prepareWorker(i, item)
		if err != nil {
			return nil, err
		}
		outDirs[i] = workerOut

		ex := d.newExecutor(workerOut, workerRepx)
		cmd, err := ex.BuildCommand(ctx, d.req.WorkerExePath, []string{workerOut, workerInputs})
		if err != nil {
			return nil, fmt.Errorf("building command for worker #%d: %w", i, err)
		}
		cmdStr := shellString(cmd)

		args := []string{"--parsable"}
		args = append(args, strings.Fields(d.req.WorkerSBatchOpts)...)
		args = append(args,
			fmt.Sprintf("--job-name=%s-w%d", d.req.JobID, i),
			fmt.Sprintf("--output=%s/slurm-%%j.out", workerRepx),
			"--wrap", cmdStr,
		)

		sbatch := exec.CommandContext(ctx, "sbatch", args...)
		out, err := sbatch.Output()
		if err != nil {
			stderr := ""
			if exitErr, ok := err.(*exec.ExitError); ok {
				stderr = string(exitErr.Stderr)
			}
			return nil, &repxerr.ExecutionFailedError{
				Message:    fmt.Sprintf("sbatch submission for worker #%d failed", i),
				LogSummary: stderr,
			}
		}
		batchIDs = append(batchIDs, strings.TrimSpace(string(out)))
	}

	logrus.WithFields(logrus.Fields{"job_id": d.req.JobID, "num_workers": len(batchIDs)}).
		Info("[3/4] waiting for SLURM worker jobs to complete")

	if len(batchIDs) == 0 {
		return outDirs, nil
	}

	for {
		states, err := sacctStates(ctx, batchIDs)
		if err != nil {
			return nil, err
		}

		for _, s := range states {
			if strings.Contains(s, "fail") || strings.Contains(s, "cancel") {
				return nil, &repxerr.ExecutionFailedError{
					Message:    "one or more SLURM workers failed or were cancelled",
					LogSummary: "check sacct for job IDs " + strings.Join(batchIDs, ","),
				}
			}
		}

		if len(states) > 0 && allCompleted(states) {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sacctPollInterval):
		}
	}

	return outDirs, nil
}

func allCompleted(states []string) bool {
	for _, s := range states {
		if !strings.Contains(s, "completed") {
			return false
		}
	}
	return true
}

func sacctStates(ctx context.Context, batchIDs []string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "sacct", "-n", "-j", strings.Join(batchIDs, ","), "-o", "State")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var states []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line != "" {
			states = append(states, line)
		}
	}
	return states, nil
}

// runGather assembles worker_outs_manifest.json (each worker's output
// templates with $out substituted by that worker's own out directory),
// writes gather_inputs.json (static inputs plus worker__outs), and
// invokes the job's gather executable.
func (d *Driver) runGather(ctx context.Context, workerOutDirs []string) error {
	logrus.WithField("job_id", d.req.JobID).Info("[4/4] all workers completed, starting gather phase")

	var workerOutputsTemplate map[string]string
	if err := json.Unmarshal([]byte(d.req.WorkerOutputsJSON), &workerOutputsTemplate); err != nil {
		return fmt.Errorf("parsing worker outputs template for job %q: %w", d.req.JobID, err)
	}

	manifest := make([]map[string]string, 0, len(workerOutDirs))
	for _, outDir := range workerOutDirs {
		entry := make(map[string]string, len(workerOutputsTemplate))
		for name, tmpl := range workerOutputsTemplate {
			entry[name] = strings.ReplaceAll(tmpl, "$out", outDir)
		}
		manifest = append(manifest, entry)
	}

	manifestPath := filepath.Join(d.repxDir, "worker_outs_manifest.json")
	manifestContent, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(manifestPath, manifestContent, 0o644); err != nil {
		return err
	}

	gatherInputs := make(map[string]interface{}, len(d.staticInputs)+1)
	for k, v := range d.staticInputs {
		gatherInputs[k] = v
	}
	gatherInputs["worker__outs"] = manifestPath

	gatherInputsPath := filepath.Join(d.repxDir, "gather_inputs.json")
	gatherInputsContent, err := json.MarshalIndent(gatherInputs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(gatherInputsPath, gatherInputsContent, 0o644); err != nil {
		return err
	}

	ex := d.newExecutor(d.userOutDir, d.repxDir)
	args := []string{d.userOutDir, gatherInputsPath}
	if err := ex.ExecuteScript(ctx, d.req.GatherExePath, args); err != nil {
		return fmt.Errorf("gather phase failed for job %q: %w", d.req.JobID, err)
	}
	return nil
}

// shellString renders cmd as a single shell-safe command line, for
// embedding inside an sbatch --wrap argument.
func shellString(cmd *exec.Cmd) string {
	parts := make([]string, 0, len(cmd.Args))
	for _, a := range cmd.Args {
		parts = append(parts, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(parts, " ")
}
