// Package ssh implements targets.Target for a remote compute site
// reached over SSH: every primitive -- command execution, file writes,
// directory sync -- is funneled through the ssh, scp, and rsync
// binaries with shell-safe quoting.
package ssh

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/repx-org/repx/internal/control"
	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/targets"
)

func defaultExecutablePath() (string, error) {
	return os.Executable()
}

// Target runs jobs on a remote host reached at Address.
type Target struct {
	name     string
	address  string
	basePath string
	runner   control.Runner
}

var _ targets.Target = (*Target)(nil)

// New constructs an SSH Target. address is an ssh(1) destination
// (a Host alias or user@host), basePath is the absolute remote path
// under which artifacts, outputs, and submissions live.
func New(name, address, basePath string) *Target {
	return &Target{name: name, address: address, basePath: basePath, runner: control.Runner{}}
}

func (t *Target) Name() string     { return t.name }
func (t *Target) BasePath() string { return t.basePath }
func (t *Target) ArtifactsBasePath() string {
	return targets.ArtifactsBasePath(t.basePath)
}

// shellQuote wraps s in single quotes, escaping any embedded single
// quote the POSIX-portable way: close, escaped quote, reopen.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (t *Target) RunCommand(ctx context.Context, program string, args []string) (string, error) {
	remote := make([]string, 0, len(args)+1)
	remote = append(remote, shellQuote(program))
	for _, a := range args {
		remote = append(remote, shellQuote(a))
	}
	res, err := t.runner.RunChecked(ctx, "ssh", t.address, strings.Join(remote, " "))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (t *Target) WriteRemoteFile(ctx context.Context, remotePath string, content string) error {
	script := fmt.Sprintf(
		"mkdir -p %s && cat > %s.tmp && mv %s.tmp %s",
		shellQuote(path.Dir(remotePath)), shellQuote(remotePath), shellQuote(remotePath), shellQuote(remotePath),
	)
	_, err := t.runner.RunWithStdin(ctx, content, "ssh", t.address, script)
	return err
}

func (t *Target) SyncDirectory(ctx context.Context, localDir, remoteDir string) error {
	mkdir := fmt.Sprintf("mkdir -p %s", shellQuote(remoteDir))
	if _, err := t.runner.RunChecked(ctx, "ssh", t.address, mkdir); err != nil {
		return err
	}
	dest := fmt.Sprintf("%s:%s/", t.address, remoteDir)
	src := localDir + "/"
	_, err := t.runner.RunChecked(ctx, "rsync", "-a", "--delete", src, dest)
	return err
}

func (t *Target) SyncLabRoot(ctx context.Context, localLabPath string) error {
	return t.SyncDirectory(ctx, localLabPath, t.ArtifactsBasePath())
}

func (t *Target) DeployRuntimeBinary(ctx context.Context) (string, error) {
	self, err := executablePath()
	if err != nil {
		return "", err
	}
	dest := path.Join(t.basePath, "bin", "repx-runner")
	mkdir := fmt.Sprintf("mkdir -p %s", shellQuote(path.Dir(dest)))
	if _, err := t.runner.RunChecked(ctx, "ssh", t.address, mkdir); err != nil {
		return "", err
	}
	target := fmt.Sprintf("%s:%s", t.address, dest)
	if _, err := t.runner.RunChecked(ctx, "scp", self, target); err != nil {
		return "", err
	}
	chmod := fmt.Sprintf("chmod +x %s", shellQuote(dest))
	if _, err := t.runner.RunChecked(ctx, "ssh", t.address, chmod); err != nil {
		return "", err
	}
	return dest, nil
}

// executablePath is a seam overridden in tests; production resolves it
// to the running control-plane binary's own path (os.Executable).
var executablePath = defaultExecutablePath

func (t *Target) ReadLogTail(ctx context.Context, remotePath string, lines int) ([]string, error) {
	cmd := fmt.Sprintf("tail -n %d %s", lines, shellQuote(remotePath))
	res, err := t.runner.RunChecked(ctx, "ssh", t.address, cmd)
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(res.Stdout), nil
}

func (t *Target) CheckOutcomeMarkers(ctx context.Context) (map[lab.JobID]engine.JobStatus, error) {
	outputsPath := path.Join(t.basePath, "outputs")
	cmd := targets.BuildOutcomeFindCommand(outputsPath)
	res, err := t.runner.Run(ctx, "ssh", t.address, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return map[lab.JobID]engine.JobStatus{}, nil
	}
	return targets.ParseOutcomeMarkers(res.Stdout, t.name), nil
}

func (t *Target) QueueSnapshot(ctx context.Context) (map[lab.JobID]targets.SlurmJobInfo, error) {
	whoCmd := "whoami"
	who, err := t.runner.RunChecked(ctx, "ssh", t.address, whoCmd)
	if err != nil {
		return nil, err
	}
	user := strings.TrimSpace(who.Stdout)

	res, err := t.runner.RunChecked(ctx, "ssh", t.address, targets.BuildSqueueCommand(user))
	if err != nil {
		return nil, err
	}
	return targets.ParseSqueue(res.Stdout), nil
}

func (t *Target) Cancel(ctx context.Context, batchID int) error {
	_, err := t.runner.RunChecked(ctx, "ssh", t.address, "scancel "+strconv.Itoa(batchID))
	return err
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
