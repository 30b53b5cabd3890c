// Package local implements targets.Target for direct execution on the
// machine running the control plane: filesystem operations use the
// standard library directly, and command execution shells out via
// internal/control without any remote wrapping.
package local

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/repx-org/repx/internal/control"
	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/targets"
)

// Target runs jobs directly on the local machine.
type Target struct {
	name     string
	basePath string
	runner   control.Runner
}

var _ targets.Target = (*Target)(nil)

// New constructs a local Target rooted at basePath.
func New(name, basePath string) *Target {
	return &Target{name: name, basePath: basePath, runner: control.Runner{}}
}

func (t *Target) Name() string     { return t.name }
func (t *Target) BasePath() string { return t.basePath }
func (t *Target) ArtifactsBasePath() string {
	return targets.ArtifactsBasePath(t.basePath)
}

func (t *Target) RunCommand(ctx context.Context, program string, args []string) (string, error) {
	res, err := t.runner.RunChecked(ctx, program, args...)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (t *Target) WriteRemoteFile(ctx context.Context, path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (t *Target) SyncDirectory(ctx context.Context, localDir, remoteDir string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(remoteDir, rel)
		if info.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		return copyFile(p, dst, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (t *Target) SyncLabRoot(ctx context.Context, localLabPath string) error {
	return t.SyncDirectory(ctx, localLabPath, t.ArtifactsBasePath())
}

func (t *Target) DeployRuntimeBinary(ctx context.Context) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(t.basePath, "bin", "repx-runner")
	if err := copyFile(self, dest, 0o755); err != nil {
		return "", err
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return "", err
	}
	return dest, nil
}

func (t *Target) ReadLogTail(ctx context.Context, path string, lines int) ([]string, error) {
	res, err := t.runner.RunChecked(ctx, "tail", "-n", strconv.Itoa(lines), path)
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(res.Stdout), nil
}

func (t *Target) CheckOutcomeMarkers(ctx context.Context) (map[lab.JobID]engine.JobStatus, error) {
	outputsPath := filepath.Join(t.basePath, "outputs")
	cmd := targets.BuildOutcomeFindCommand(outputsPath)
	res, err := t.runner.Run(ctx, "sh", "-c", cmd)
	if err != nil {
		return nil, err
	}
	// Matches repx-client/src/targets/mod.rs's unwrap_or_default: a find
	// failure (e.g. the outputs directory does not exist yet) yields an
	// empty map, not an error -- this must succeed even against an
	// empty outputs tree.
	if res.ExitCode != 0 {
		return map[lab.JobID]engine.JobStatus{}, nil
	}
	return targets.ParseOutcomeMarkers(res.Stdout, t.name), nil
}

func (t *Target) QueueSnapshot(ctx context.Context) (map[lab.JobID]targets.SlurmJobInfo, error) {
	user := currentUser()
	res, err := t.runner.RunChecked(ctx, "sh", "-c", targets.BuildSqueueCommand(user))
	if err != nil {
		return nil, err
	}
	return targets.ParseSqueue(res.Stdout), nil
}

func (t *Target) Cancel(ctx context.Context, batchID int) error {
	_, err := t.runner.RunChecked(ctx, "scancel", strconv.Itoa(batchID))
	return err
}

func currentUser() string {
	if out, err := exec.Command("whoami").Output(); err == nil {
		return trimNewline(string(out))
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
