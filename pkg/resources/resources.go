// Package resources resolves per-job SBATCH directives from a glob-
// and target-matched rule configuration.
package resources

import (
	"fmt"
	"path"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/repx-org/repx/pkg/lab"
)

// Rule is one entry of a resources.toml [[rules]] array, or the
// [defaults] block. JobIDGlob and Target are predicates (empty = match
// all); the remaining fields overlay onto an accumulated Directives
// value, except SBatchOpts, which wholesale-replaces rather than
// appends.
type Rule struct {
	JobIDGlob string `toml:"job_id_glob"`
	Target    string `toml:"target"`

	Partition   string   `toml:"partition"`
	CPUsPerTask int      `toml:"cpus-per-task"`
	Mem         string   `toml:"mem"`
	Time        string   `toml:"time"`
	SBatchOpts  []string `toml:"sbatch_opts"`

	WorkerResources *Rule `toml:"worker_resources"`
}

// Config is the full resources.toml document.
type Config struct {
	Defaults Rule   `toml:"defaults"`
	Rules    []Rule `toml:"rules"`
}

// Directives is the fully resolved set of SBATCH directives for one job.
type Directives struct {
	Partition   string
	CPUsPerTask int
	Mem         string
	Time        string
	SBatchOpts  []string
}

func matches(rule Rule, jobID string, targetName string) bool {
	if rule.JobIDGlob != "" {
		ok, err := path.Match(rule.JobIDGlob, jobID)
		if err != nil || !ok {
			return false
		}
	}
	if rule.Target != "" && rule.Target != targetName {
		return false
	}
	return true
}

func overlay(base Directives, rule Rule) Directives {
	if rule.Partition != "" {
		base.Partition = rule.Partition
	}
	if rule.CPUsPerTask != 0 {
		base.CPUsPerTask = rule.CPUsPerTask
	}
	if rule.Mem != "" {
		base.Mem = rule.Mem
	}
	if rule.Time != "" {
		base.Time = rule.Time
	}
	if len(rule.SBatchOpts) > 0 {
		base.SBatchOpts = append([]string(nil), rule.SBatchOpts...)
	}
	return base
}

func ruleToDirectives(r Rule) Directives {
	return Directives{
		Partition:   r.Partition,
		CPUsPerTask: r.CPUsPerTask,
		Mem:         r.Mem,
		Time:        r.Time,
		SBatchOpts:  append([]string(nil), r.SBatchOpts...),
	}
}

// Parse decodes a resources.toml document.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing resources.toml: %w", err)
	}
	return cfg, nil
}

// ResolveForJob resolves the Directives for jobID on targetName: start
// from defaults, then overlay every matching rule in declaration order.
func ResolveForJob(cfg Config, jobID lab.JobID, targetName string) Directives {
	d := ruleToDirectives(cfg.Defaults)
	for _, rule := range cfg.Rules {
		if matches(rule, string(jobID), targetName) {
			d = overlay(d, rule)
		}
	}
	return d
}

// ResolveWorkerResources resolves the Directives for the parallel worker
// jobs of a scatter-gather job: resolve-for-job(jobID, target) overlaid
// with the worker_resources block of the last matching rule overall, if
// that rule carries one. A job whose last-matching rule has no
// worker_resources block inherits the job's own resolved directives,
// even if an earlier matching rule did carry one.
func ResolveWorkerResources(cfg Config, jobID lab.JobID, targetName string) Directives {
	base := ResolveForJob(cfg, jobID, targetName)

	var lastMatch *Rule
	for i := range cfg.Rules {
		rule := cfg.Rules[i]
		if matches(rule, string(jobID), targetName) {
			lastMatch = &cfg.Rules[i]
		}
	}
	if lastMatch == nil || lastMatch.WorkerResources == nil {
		return base
	}
	return overlay(base, *lastMatch.WorkerResources)
}

// ToShellString renders every set directive (partition, cpus-per-task,
// mem, time) followed by the extra SBATCH options as a single
// space-joined string, matching client/slurm.rs's worker_opts_str used
// to pass --worker-sbatch-opts through to internal-scatter-gather.
func (d Directives) ToShellString() string {
	var parts []string
	if d.Partition != "" {
		parts = append(parts, fmt.Sprintf("--partition=%s", d.Partition))
	}
	if d.CPUsPerTask != 0 {
		parts = append(parts, fmt.Sprintf("--cpus-per-task=%d", d.CPUsPerTask))
	}
	if d.Mem != "" {
		parts = append(parts, fmt.Sprintf("--mem=%s", d.Mem))
	}
	if d.Time != "" {
		parts = append(parts, fmt.Sprintf("--time=%s", d.Time))
	}
	parts = append(parts, d.SBatchOpts...)
	return strings.Join(parts, " ")
}
