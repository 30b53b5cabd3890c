package planner

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/resources"
)

// GenerateInvokerScript renders the SBATCH wrapper script for one job:
// directives, then the wrapped repx-runner invocation, matching
// client/slurm.rs::generate_repx_invoker_script line for line.
func GenerateInvokerScript(jobID lab.JobID, jobRootOnTarget string, directives resources.Directives, repxCommandToWrap string) string {
	s := "#!/usr/bin/env bash\n"
	s += fmt.Sprintf("#SBATCH --job-name=%s\n", jobID)
	s += fmt.Sprintf("#SBATCH --chdir=%s\n", jobRootOnTarget)

	logPath := filepath.Join(jobRootOnTarget, "repx", "slurm-%j.out")
	s += fmt.Sprintf("#SBATCH --output=%s\n", logPath)
	s += fmt.Sprintf("#SBATCH --error=%s\n", logPath)

	if directives.Partition != "" {
		s += fmt.Sprintf("#SBATCH --partition=%s\n", directives.Partition)
	}
	if directives.CPUsPerTask != 0 {
		s += fmt.Sprintf("#SBATCH --cpus-per-task=%d\n", directives.CPUsPerTask)
	}
	if directives.Mem != "" {
		s += fmt.Sprintf("#SBATCH --mem=%s\n", directives.Mem)
	}
	if directives.Time != "" {
		s += fmt.Sprintf("#SBATCH --time=%s\n", directives.Time)
	}
	for _, opt := range directives.SBatchOpts {
		s += fmt.Sprintf("#SBATCH %s\n", opt)
	}

	s += "\nset -e\n\n"
	s += repxCommandToWrap
	s += "\n"
	return s
}

// ScriptHash returns the hex SHA-256 digest of a script's content,
// used both as its cache key and its filename under submissionsDir
// (<hash>.sbatch).
func ScriptHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// WriteScriptIfAbsent writes content to <dir>/<hash>.sbatch unless a
// file with that name already exists, so that re-submitting an
// unchanged job reuses its previously generated script via the
// hash-keyed script cache.
func WriteScriptIfAbsent(dir, hash, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, hash+".sbatch")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
