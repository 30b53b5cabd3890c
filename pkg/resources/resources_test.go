package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// scenarioSixConfig mirrors repx-client/src/resources.rs's own test
// module fixture for worker-resource inheritance overlays.
func scenarioSixConfig() Config {
	return Config{
		Defaults: Rule{
			Partition:   "default",
			CPUsPerTask: 1,
			Mem:         "1G",
		},
		Rules: []Rule{
			{JobIDGlob: "*-heavy-*", Mem: "128G", CPUsPerTask: 16},
			{JobIDGlob: "*-gpu-*", Target: "safari", SBatchOpts: []string{"--gres=gpu:1"}},
			{
				JobIDGlob: "*-scatter-job",
				Mem:       "500M",
				WorkerResources: &Rule{
					Mem:         "16G",
					CPUsPerTask: 4,
				},
			},
		},
	}
}

func TestResolveForJobDefaults(t *testing.T) {
	cfg := scenarioSixConfig()
	d := ResolveForJob(cfg, "some-plain-job", "local")
	assert.Equal(t, "default", d.Partition)
	assert.Equal(t, 1, d.CPUsPerTask)
	assert.Equal(t, "1G", d.Mem)
}

func TestResolveForJobHeavyOverride(t *testing.T) {
	cfg := scenarioSixConfig()
	d := ResolveForJob(cfg, "job-heavy-compute", "local")
	assert.Equal(t, "128G", d.Mem)
	assert.Equal(t, 16, d.CPUsPerTask)
	assert.Equal(t, "default", d.Partition, "unmatched field inherited from defaults")
}

func TestResolveForJobTargetPredicate(t *testing.T) {
	cfg := scenarioSixConfig()
	onSafari := ResolveForJob(cfg, "job-gpu-train", "safari")
	assert.Equal(t, []string{"--gres=gpu:1"}, onSafari.SBatchOpts)

	onLocal := ResolveForJob(cfg, "job-gpu-train", "local")
	assert.Empty(t, onLocal.SBatchOpts, "target predicate must not match a different target")
}

func TestResolveWorkerResourcesOverride(t *testing.T) {
	cfg := scenarioSixConfig()
	main := ResolveForJob(cfg, "orch-scatter-job", "local")
	assert.Equal(t, "500M", main.Mem)

	worker := ResolveWorkerResources(cfg, "orch-scatter-job", "local")
	assert.Equal(t, "16G", worker.Mem)
	assert.Equal(t, 4, worker.CPUsPerTask)
	assert.Equal(t, "default", worker.Partition, "worker inherits unset fields from the job's own resolution")
}

func TestResolveWorkerResourcesInheritsWhenNoOverride(t *testing.T) {
	cfg := scenarioSixConfig()
	main := ResolveForJob(cfg, "plain-job", "local")
	worker := ResolveWorkerResources(cfg, "plain-job", "local")
	assert.Equal(t, main, worker)
}

func TestResolveWorkerResourcesLastMatchWithoutOverrideWins(t *testing.T) {
	cfg := scenarioSixConfig()
	cfg.Rules = append(cfg.Rules, Rule{JobIDGlob: "*"})

	main := ResolveForJob(cfg, "orch-scatter-job", "local")
	assert.Equal(t, "500M", main.Mem, "the trailing catch-all rule carries no overlay fields")

	worker := ResolveWorkerResources(cfg, "orch-scatter-job", "local")
	assert.Equal(t, main, worker, "last-matching rule (the catch-all) has no worker_resources, so workers inherit the job's own directives rather than the earlier rule's override")
}

func TestSBatchOptsReplaceNotAppend(t *testing.T) {
	cfg := Config{
		Defaults: Rule{SBatchOpts: []string{"--a"}},
		Rules:    []Rule{{JobIDGlob: "*", SBatchOpts: []string{"--b"}}},
	}
	d := ResolveForJob(cfg, "anything", "local")
	assert.Equal(t, []string{"--b"}, d.SBatchOpts)
}
