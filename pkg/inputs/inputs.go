// Package inputs materializes a per-job inputs.json by resolving
// dependency, global, and run-metadata input bindings.
package inputs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/repx-org/repx/internal/reposlog"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/targets"
)

// target is the narrow capability inputs.go needs from a full
// targets.Target, so it can be driven by any implementation (and a
// fake, in tests) without importing the local/ssh packages.
type target interface {
	Name() string
	BasePath() string
	ArtifactsBasePath() string
	WriteRemoteFile(ctx context.Context, path string, content string) error
}

var _ target = (targets.Target)(nil)

// Generate resolves job's entrypoint InputMapping list against l and
// the given Target, writing the resulting inputs.json to
// <target>/outputs/<job_id>/repx/inputs.json.
//
// localLabPath is the lab's local (not on-target) directory, used only
// to search revision/ for run-metadata bindings -- that search always
// happens against the submitting machine's copy of the lab, since the
// metadata files are synced by content rather than wired per-job.
func Generate(ctx context.Context, l *lab.Lab, localLabPath string, jobID lab.JobID, t target) error {
	job, ok := l.Jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q not found in lab", jobID)
	}
	exe, exeName, err := job.EntrypointExecutable()
	if err != nil {
		return fmt.Errorf("job %q: %w", jobID, err)
	}

	inputsMap := make(map[string]string)

	for _, m := range exe.Inputs {
		switch m.Kind() {
		case lab.MappingDependency:
			val, err := resolveDependency(l, t, jobID, m)
			if err != nil {
				return err
			}
			inputsMap[m.TargetInput] = val

		case lab.MappingGlobal:
			inputsMap[m.TargetInput] = t.ArtifactsBasePath()

		case lab.MappingRunMetadata:
			val, found, err := resolveRunMetadata(t, localLabPath, *m.SourceRun)
			if err != nil {
				return err
			}
			if !found {
				reposlog.Job(string(jobID)).WithFields(logrus.Fields{
					"input":             m.TargetInput,
					reposlog.FieldRunID: *m.SourceRun,
				}).Warn("could not resolve metadata file for run; input will be missing")
				continue
			}
			inputsMap[m.TargetInput] = val
		}
	}

	content, err := marshalDeterministic(inputsMap)
	if err != nil {
		return err
	}

	dest := path.Join(t.BasePath(), lab.JobRepxDir(jobID), "inputs.json")

	reposlog.Job(string(jobID)).WithFields(logrus.Fields{"exe": exeName, reposlog.FieldTarget: t.Name()}).
		Info("generating inputs.json")

	return t.WriteRemoteFile(ctx, dest, content)
}

func resolveDependency(l *lab.Lab, t target, jobID lab.JobID, m lab.InputMapping) (string, error) {
	depJob, ok := l.Jobs[*m.JobID]
	if !ok {
		return "", fmt.Errorf("job %q requires dependency %q which is not in the lab", jobID, *m.JobID)
	}
	depExe, _, err := depJob.OutputExecutable()
	if err != nil {
		return "", fmt.Errorf("resolving dependency %q of job %q: %w", *m.JobID, jobID, err)
	}
	tmpl, err := depExe.OutputTemplate(m.SourceOutput)
	if err != nil {
		return "", fmt.Errorf(
			"job %q requires output %q from dependency %q: %w", jobID, m.SourceOutput, *m.JobID, err,
		)
	}

	depOutputDir := path.Join(t.BasePath(), lab.JobOutputDir(*m.JobID))
	return strings.ReplaceAll(tmpl, "$out", depOutputDir), nil
}

// resolveRunMetadata locates a file named "*metadata-<runID>.json" under
// localLabPath/revision and maps it to its path under the target's
// artifacts root, matching inputs.rs exactly. A missing file is a soft
// failure: the caller logs and omits the input.
func resolveRunMetadata(t target, localLabPath string, runID lab.RunID) (string, bool, error) {
	revisionDir := filepath.Join(localLabPath, "revision")
	entries, err := os.ReadDir(revisionDir)
	if err != nil {
		return "", false, nil
	}

	suffix := fmt.Sprintf("metadata-%s.json", runID)
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			remote := path.Join(t.ArtifactsBasePath(), "revision", entry.Name())
			return remote, true, nil
		}
	}
	return "", false, nil
}

// marshalDeterministic pretty-prints m with sorted keys so that
// idempotent re-submission produces byte-identical inputs.json. Keys
// are sorted explicitly and each entry is written on its own line with
// two-space indentation.
func marshalDeterministic(m map[string]string) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n  ")
		keyBytes, _ := json.Marshal(k)
		valBytes, _ := json.Marshal(m[k])
		b.Write(keyBytes)
		b.WriteString(": ")
		b.Write(valBytes)
	}
	if len(keys) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String(), nil
}
