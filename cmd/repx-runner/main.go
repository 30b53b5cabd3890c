// Command repx-runner is the embedded runtime binary the control plane
// deploys to a target and invokes on its behalf: internal-execute dispatches
// one simple job's script, internal-scatter-gather drives the three-phase
// C11 composite job, and internal-orchestrate runs on a SLURM target to
// submit a whole plan.json wave by wave. Every flag name matches
// repx-runner/src/cli.rs's InternalExecuteArgs/InternalScatterGatherArgs/
// InternalOrchestrateArgs exactly, since pkg/planner.Invocation.Args()
// renders a command line against this exact contract.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/repx-org/repx/pkg/executor"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/orchestrator"
	"github.com/repx-org/repx/pkg/planner"
	"github.com/repx-org/repx/pkg/scattergather"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "repx-runner",
		Short:         "Embedded job dispatch runtime for repx targets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInternalExecuteCmd())
	root.AddCommand(newInternalScatterGatherCmd())
	root.AddCommand(newInternalOrchestrateCmd())
	root.AddCommand(newInternalGcCmd())
	return root
}

type executeFlags struct {
	jobID          string
	runtime        string
	imageTag       string
	basePath       string
	nodeLocalPath  string
	mountHostPaths bool
	mountPaths     []string
	hostToolsDir   string
	executablePath string
}

func newInternalExecuteCmd() *cobra.Command {
	f := executeFlags{}
	cmd := &cobra.Command{
		Use:    "internal-execute",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := executor.ParseRuntime(f.runtime, f.imageTag)
			if err != nil {
				return err
			}

			jobID := lab.JobID(f.jobID)
			userOutDir := filepath.Join(f.basePath, lab.JobOutputDir(jobID))
			repxDir := filepath.Join(f.basePath, lab.JobRepxDir(jobID))
			if err := os.MkdirAll(userOutDir, 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(repxDir, 0o755); err != nil {
				return err
			}

			ex := executor.New(executor.Request{
				JobID:           jobID,
				Runtime:         runtime,
				BasePath:        f.basePath,
				UserOutDir:      userOutDir,
				RepxOutDir:      repxDir,
				HostToolsBinDir: f.hostToolsDir,
			})

			inputsPath := filepath.Join(repxDir, "inputs.json")
			if err := ex.ExecuteScript(cmd.Context(), f.executablePath, []string{userOutDir, inputsPath}); err != nil {
				markFail(repxDir)
				return err
			}
			return markSuccess(repxDir)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.jobID, "job-id", "", "The ID of the job to execute.")
	flags.StringVar(&f.runtime, "runtime", "", "")
	flags.StringVar(&f.imageTag, "image-tag", "", "")
	flags.StringVar(&f.basePath, "base-path", "", "")
	flags.StringVar(&f.nodeLocalPath, "node-local-path", "", "")
	flags.BoolVar(&f.mountHostPaths, "mount-host-paths", false, "")
	flags.StringArrayVar(&f.mountPaths, "mount-paths", nil, "")
	flags.StringVar(&f.hostToolsDir, "host-tools-dir", "", "")
	flags.StringVar(&f.executablePath, "executable-path", "", "")
	cmd.MarkFlagRequired("job-id")
	cmd.MarkFlagRequired("runtime")
	cmd.MarkFlagRequired("base-path")
	cmd.MarkFlagRequired("host-tools-dir")
	cmd.MarkFlagRequired("executable-path")
	return cmd
}

type scatterGatherFlags struct {
	jobID             string
	runtime           string
	imageTag          string
	basePath          string
	nodeLocalPath     string
	mountHostPaths    bool
	mountPaths        []string
	hostToolsDir      string
	scheduler         string
	workerSBatchOpts  string
	jobPackagePath    string
	scatterExePath    string
	workerExePath     string
	gatherExePath     string
	workerOutputsJSON string
	anchorID          uint32
	phase             string
}

func newInternalScatterGatherCmd() *cobra.Command {
	f := scatterGatherFlags{}
	cmd := &cobra.Command{
		Use:    "internal-scatter-gather",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := executor.ParseRuntime(f.runtime, f.imageTag)
			if err != nil {
				return err
			}
			d := scattergather.New(scattergather.Request{
				JobID:             lab.JobID(f.jobID),
				Runtime:           runtime,
				BasePath:          f.basePath,
				JobPackagePath:    f.jobPackagePath,
				ScatterExePath:    f.scatterExePath,
				WorkerExePath:     f.workerExePath,
				GatherExePath:     f.gatherExePath,
				WorkerOutputsJSON: f.workerOutputsJSON,
				Scheduler:         f.scheduler,
				WorkerSBatchOpts:  f.workerSBatchOpts,
				HostToolsBinDir:   f.hostToolsDir,
			})
			return d.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.jobID, "job-id", "", "The ID of the composite scatter-gather job.")
	flags.StringVar(&f.runtime, "runtime", "", "")
	flags.StringVar(&f.imageTag, "image-tag", "", "")
	flags.StringVar(&f.basePath, "base-path", "", "")
	flags.StringVar(&f.nodeLocalPath, "node-local-path", "", "")
	flags.BoolVar(&f.mountHostPaths, "mount-host-paths", false, "")
	flags.StringArrayVar(&f.mountPaths, "mount-paths", nil, "")
	flags.StringVar(&f.hostToolsDir, "host-tools-dir", "", "")
	flags.StringVar(&f.scheduler, "scheduler", "", "")
	flags.StringVar(&f.workerSBatchOpts, "worker-sbatch-opts", "", "")
	flags.StringVar(&f.jobPackagePath, "job-package-path", "", "")
	flags.StringVar(&f.scatterExePath, "scatter-exe-path", "", "")
	flags.StringVar(&f.workerExePath, "worker-exe-path", "", "")
	flags.StringVar(&f.gatherExePath, "gather-exe-path", "", "")
	flags.StringVar(&f.workerOutputsJSON, "worker-outputs-json", "", "")
	flags.Uint32Var(&f.anchorID, "anchor-id", 0, "")
	flags.StringVar(&f.phase, "phase", "all", "")
	cmd.MarkFlagRequired("job-id")
	cmd.MarkFlagRequired("runtime")
	cmd.MarkFlagRequired("base-path")
	cmd.MarkFlagRequired("host-tools-dir")
	cmd.MarkFlagRequired("scheduler")
	cmd.MarkFlagRequired("job-package-path")
	cmd.MarkFlagRequired("scatter-exe-path")
	cmd.MarkFlagRequired("worker-exe-path")
	cmd.MarkFlagRequired("gather-exe-path")
	cmd.MarkFlagRequired("worker-outputs-json")
	return cmd
}

func newInternalOrchestrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "internal-orchestrate PLAN_FILE",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var plan planner.OrchestrationPlan
			if err := json.Unmarshal(data, &plan); err != nil {
				return err
			}
			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()
			return orchestrator.Run(cmd.Context(), &plan, orchestrator.SbatchSubmitter, out)
		},
	}
	return cmd
}

func newInternalGcCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:    "internal-gc",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Spec §1 scopes garbage-collection root sweeping policy out
			// of this implementation; this subcommand exists so the
			// control plane's "repx gc" still has a target-side endpoint
			// to call, without prescribing which outputs are reclaimable.
			fmt.Fprintf(cmd.OutOrStdout(), "garbage collection root sweeping is not implemented for base path %q\n", basePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&basePath, "base-path", "", "")
	cmd.MarkFlagRequired("base-path")
	return cmd
}

func markFail(repxDir string) {
	f, err := os.Create(filepath.Join(repxDir, "FAIL"))
	if err == nil {
		f.Close()
	}
}

func markSuccess(repxDir string) error {
	f, err := os.Create(filepath.Join(repxDir, "SUCCESS"))
	if err != nil {
		return err
	}
	return f.Close()
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
