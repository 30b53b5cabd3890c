// Command repx is the user-facing submission CLI: it reads a lab
// directory, resolves which jobs a RUN_OR_JOB_ID spec names, and
// submits them to a configured target, mirroring repx-runner/src/cli.rs's
// Cli/Commands definition but scoped to the commands a human invokes
// directly (run, list, cancel, logs, gc) -- the internal-* subcommands live in
// cmd/repx-runner, the binary the control plane itself deploys and
// invokes on targets.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/repx-org/repx/internal/config"
	"github.com/repx-org/repx/pkg/batchmap"
	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/events"
	"github.com/repx-org/repx/pkg/graph"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/metrics"
	"github.com/repx-org/repx/pkg/planner"
	"github.com/repx-org/repx/pkg/repxerr"
	"github.com/repx-org/repx/pkg/resolver"
	"github.com/repx-org/repx/pkg/resources"
	"github.com/repx-org/repx/pkg/status"
	"github.com/repx-org/repx/pkg/targets"
	"github.com/repx-org/repx/pkg/targets/local"
	"github.com/repx-org/repx/pkg/targets/ssh"
)

type globalOptions struct {
	labPath       string
	resourcesPath string
	verbose       int
	targetName    string
	scheduler     string
	metricsAddr   string
}

type runOptions struct {
	runSpecs []string
	jobs     int
}

func resolveTarget(cfg *config.Config, opts globalOptions) (targets.Target, config.Target, error) {
	name := opts.targetName
	if name == "" {
		name = cfg.SubmissionTarget
	}
	if name == "" {
		return nil, config.Target{}, repxerr.ErrNoSubmissionTarget
	}
	targetCfg, ok := cfg.Targets[name]
	if !ok {
		return nil, config.Target{}, &repxerr.ConfigurationError{Message: fmt.Sprintf("target %q is not defined in config.toml", name)}
	}
	if opts.scheduler != "" {
		targetCfg.Scheduler = opts.scheduler
	}

	if targetCfg.Address == "" {
		return local.New(name, targetCfg.BasePath), targetCfg, nil
	}
	return ssh.New(name, targetCfg.Address, targetCfg.BasePath), targetCfg, nil
}

func loadResourcesConfig(path string) (resources.Config, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, _, err = config.LoadResources()
	}
	if err != nil {
		return resources.Config{}, err
	}
	return resources.Parse(data)
}

func configureLogging(verbosity int) {
	switch {
	case verbosity >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case verbosity == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// resolveJobIDs expands every entry of specs (a Run ID or a JobID
// prefix) into its full dependency closure, matching
// repx-client/src/main.rs's run-spec expansion ahead of submission.
func resolveJobIDs(l *lab.Lab, specs []string) ([]lab.JobID, error) {
	seen := make(map[lab.JobID]bool)
	var out []lab.JobID

	deps := func(j lab.JobID) []lab.JobID { return graph.LabDependencyFunc(l)(j) }

	for _, spec := range specs {
		finals, err := resolver.ResolveFinalJobIDs(l, spec)
		if err != nil {
			return nil, err
		}
		for _, final := range finals {
			for _, j := range graph.BuildDependencyClosure(deps, final) {
				if !seen[j] {
					seen[j] = true
					out = append(out, j)
				}
			}
		}
	}
	return out, nil
}

func newRootCmd() *cobra.Command {
	global := globalOptions{}

	root := &cobra.Command{
		Use:   "repx",
		Short: "A focused SLURM job runner for repx labs.",
		Long:  "This tool reads a repx lab definition and submits its jobs to a SLURM cluster.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(global.verbose)
		},
	}

	root.PersistentFlags().StringVarP(&global.labPath, "lab", "l", "./result", "Path to the lab directory")
	root.PersistentFlags().StringVar(&global.resourcesPath, "resources", "", "Path to a resources.toml file for execution requirements")
	root.PersistentFlags().CountVarP(&global.verbose, "verbose", "v", "Increase verbosity level (-v for debug, -vv for trace)")
	root.PersistentFlags().StringVar(&global.targetName, "target", "", "The target to submit the job to (must be defined in config.toml)")
	root.PersistentFlags().StringVar(&global.scheduler, "scheduler", "", "The scheduler to use: 'slurm' or 'local'. Overrides the target's configuration.")
	root.PersistentFlags().StringVar(&global.metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics at this address (e.g. ':9090') for the duration of the command.")

	root.AddCommand(newRunCmd(&global))
	root.AddCommand(newListCmd(&global))
	root.AddCommand(newCancelCmd(&global))
	root.AddCommand(newLogsCmd(&global))
	root.AddCommand(newGcCmd(&global))

	return root
}

func newRunCmd(global *globalOptions) *cobra.Command {
	run := runOptions{}

	cmd := &cobra.Command{
		Use:   "run RUN_OR_JOB_ID...",
		Short: "Submit jobs to the configured target",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run.runSpecs = args
			return executeRun(cmd, *global, run)
		},
	}
	cmd.Flags().IntVarP(&run.jobs, "jobs", "j", 0, "Set the maximum number of parallel jobs for the local scheduler.")
	return cmd
}

func executeRun(cmd *cobra.Command, global globalOptions, run runOptions) error {
	ctx := context.Background()

	if global.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(global.metricsAddr); err != nil {
				logrus.WithError(err).Warn("metrics server exited")
			}
		}()
	}

	l, err := lab.Load(global.labPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	target, targetCfg, err := resolveTarget(cfg, global)
	if err != nil {
		return err
	}

	resourcesCfg, err := loadResourcesConfig(global.resourcesPath)
	if err != nil {
		return err
	}

	jobIDs, err := resolveJobIDs(l, run.runSpecs)
	if err != nil {
		return err
	}

	mapPath, err := config.SlurmMapPath()
	if err != nil {
		return err
	}
	bmap, err := batchmap.Load(mapPath)
	if err != nil {
		return err
	}

	summary, err := planner.Submit(ctx, l, global.labPath, jobIDs, target, targetCfg, planner.Options{
		Resources:   resourcesCfg,
		Concurrency: run.jobs,
		Sender:      events.NewSender(nil),
	}, bmap)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

func newListCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every job in the lab and its current status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeList(cmd, *global)
		},
	}
}

// allTargets instantiates every configured target, keyed by name,
// mirroring Client::new's target construction over the whole
// [targets] table rather than just the selected submission target.
func allTargets(cfg *config.Config) (map[string]targets.Target, []status.Source) {
	byName := make(map[string]targets.Target, len(cfg.Targets))
	var sources []status.Source
	for name, targetCfg := range cfg.Targets {
		var t targets.Target
		if targetCfg.Address == "" {
			t = local.New(name, targetCfg.BasePath)
		} else {
			t = ssh.New(name, targetCfg.Address, targetCfg.BasePath)
		}
		byName[name] = t
		sources = append(sources, status.Source{Target: t, SlurmCapable: targetCfg.Slurm != nil})
	}
	return byName, sources
}

func executeList(cmd *cobra.Command, global globalOptions) error {
	l, err := lab.Load(global.labPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	_, sources := allTargets(cfg)

	mapPath, err := config.SlurmMapPath()
	if err != nil {
		return err
	}
	bmap, err := batchmap.Load(mapPath)
	if err != nil {
		return err
	}

	statuses, err := status.Collect(context.Background(), l, sources, bmap)
	if err != nil {
		return err
	}

	ids := make([]lab.JobID, 0, len(l.Jobs))
	for id := range l.Jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	w := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintf(w, "%-12s %-12s %s\n", id.ShortID(), statuses[id].Status, l.Jobs[id].StageType)
	}

	runIDs := make([]lab.RunID, 0, len(l.Runs))
	for id := range l.Runs {
		runIDs = append(runIDs, id)
	}
	sort.Slice(runIDs, func(i, j int) bool { return runIDs[i] < runIDs[j] })
	for _, id := range runIDs {
		fmt.Fprintf(w, "run %-20s %s\n", id, engine.AggregateRun(l.Runs[id], statuses))
	}
	return nil
}

func newCancelCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a batch-submitted job by its ID or unique prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lab.Load(global.labPath)
			if err != nil {
				return err
			}
			jobID, err := resolver.ResolveTargetJobID(l, args[0])
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			byName, _ := allTargets(cfg)

			mapPath, err := config.SlurmMapPath()
			if err != nil {
				return err
			}
			bmap, err := batchmap.Load(mapPath)
			if err != nil {
				return err
			}

			if err := status.CancelJob(context.Background(), bmap, byName, jobID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for %s\n", jobID.ShortID())
			return nil
		},
	}
}

func newLogsCmd(global *globalOptions) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs JOB_ID",
		Short: "Show the tail of a job's live log on the selected target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lab.Load(global.labPath)
			if err != nil {
				return err
			}
			jobID, err := resolver.ResolveTargetJobID(l, args[0])
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			target, _, err := resolveTarget(cfg, *global)
			if err != nil {
				return err
			}

			mapPath, err := config.SlurmMapPath()
			if err != nil {
				return err
			}
			bmap, err := batchmap.Load(mapPath)
			if err != nil {
				return err
			}

			out, err := status.LogTail(context.Background(), bmap, target, jobID, lines)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, line := range out {
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of trailing log lines to show.")
	return cmd
}

// newGcCmd exposes the target's garbage-collection trigger. Spec §1
// places "garbage-collection root sweeping" policy (what counts as a GC
// root) out of scope; this command only forwards the request to the
// target-side internal-gc invocation the control plane already has a
// contract for, it does not implement sweeping logic itself.
func newGcCmd(global *globalOptions) *cobra.Command {
	var gcTarget string
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Trigger garbage collection on a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *global
			if gcTarget != "" {
				opts.targetName = gcTarget
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			target, targetCfg, err := resolveTarget(cfg, opts)
			if err != nil {
				return err
			}
			remoteBinaryPath, err := target.DeployRuntimeBinary(context.Background())
			if err != nil {
				return err
			}
			out, err := target.RunCommand(context.Background(), remoteBinaryPath, []string{"internal-gc", "--base-path", targetCfg.BasePath})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&gcTarget, "target", "", "The target to garbage collect (must be defined in config.toml)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
