// Package executor builds and runs the OS command that dispatches one
// job's script (main, scatter, worker, or gather) under a chosen
// runtime: direct native execution, or a container runtime invoked as a
// subprocess. Spec §1 places "container runtime invocation details" out
// of scope as an external collaborator; this package supplies only the
// minimal pass-through command construction C9/C11 need to dispatch an
// opaque executable, not a full image-management layer.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

// Runtime selects how a job's script is dispatched.
type Runtime struct {
	Kind     string // "native", "docker", "podman", "bwrap"
	ImageTag string
}

// ParseRuntime validates a --runtime flag value against the required
// --image-tag, matching execute.rs's and scatter_gather.rs's identical
// match arms.
func ParseRuntime(kind, imageTag string) (Runtime, error) {
	switch kind {
	case "native":
		return Runtime{Kind: "native"}, nil
	case "docker", "podman", "bwrap":
		if imageTag == "" {
			return Runtime{}, &repxerr.ConfigurationError{
				Message: fmt.Sprintf("%s runtime requires --image-tag", kind),
			}
		}
		return Runtime{Kind: kind, ImageTag: imageTag}, nil
	default:
		return Runtime{}, &repxerr.ConfigurationError{Message: fmt.Sprintf("unsupported runtime %q", kind)}
	}
}

// Request carries everything one script invocation needs, independent
// of which phase (main/scatter/worker/gather) it dispatches.
type Request struct {
	JobID           lab.JobID
	Runtime         Runtime
	BasePath        string
	JobPackagePath  string
	UserOutDir      string
	RepxOutDir      string
	HostToolsBinDir string
}

// Executor dispatches one script under req.Runtime.
type Executor struct {
	req Request
}

// New constructs an Executor for req.
func New(req Request) *Executor { return &Executor{req: req} }

// ExecuteScript runs scriptPath with args, capturing stdout/stderr to
// <RepxOutDir>/stdout.log and stderr.log, and returns an
// ExecutionFailedError carrying the captured stderr on non-zero exit,
// matching repx-executor::Executor::execute_script.
func (e *Executor) ExecuteScript(ctx context.Context, scriptPath string, args []string) error {
	cmd, err := e.BuildCommand(ctx, scriptPath, args)
	if err != nil {
		return err
	}

	stdoutPath := filepath.Join(e.req.RepxOutDir, "stdout.log")
	stderrPath := filepath.Join(e.req.RepxOutDir, "stderr.log")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer stderrFile.Close()

	var stderrTee strings.Builder
	cmd.Stdout = stdoutFile
	cmd.Stderr = io.MultiWriter(stderrFile, &stderrTee)

	logrus.WithFields(logrus.Fields{"job_id": e.req.JobID, "command": cmd.String()}).Info("executing job script")

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return &repxerr.ExecutionFailedError{
				Message:    fmt.Sprintf("execution of %q failed", scriptPath),
				LogPath:    stderrPath,
				LogSummary: stderrTee.String(),
			}
		}
		return &repxerr.ProcessLaunchFailedError{CommandName: scriptPath, Err: err}
	}
	return nil
}

// BuildCommand constructs, but does not start, the *exec.Cmd for
// scriptPath under e.req.Runtime.
func (e *Executor) BuildCommand(ctx context.Context, scriptPath string, args []string) (*exec.Cmd, error) {
	switch e.req.Runtime.Kind {
	case "native", "":
		return e.buildNativeCommand(ctx, scriptPath, args), nil
	case "bwrap":
		return e.buildBwrapCommand(ctx, scriptPath, args), nil
	case "docker", "podman":
		if err := e.ensureImageLoaded(ctx, e.req.Runtime.Kind, e.req.Runtime.ImageTag); err != nil {
			return nil, err
		}
		return e.buildContainerCommand(ctx, e.req.Runtime.Kind, e.req.Runtime.ImageTag, scriptPath, args), nil
	default:
		return nil, &repxerr.ConfigurationError{Message: fmt.Sprintf("unsupported runtime %q", e.req.Runtime.Kind)}
	}
}

func (e *Executor) buildNativeCommand(ctx context.Context, scriptPath string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, scriptPath, args...)
	if e.req.HostToolsBinDir != "" {
		cmd.Env = append(os.Environ(), "PATH="+e.req.HostToolsBinDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return cmd
}

// buildBwrapCommand sandboxes native execution in bubblewrap: the host
// root is dev-bound as a whole, with a fresh /proc and a tmpfs /tmp,
// and then the base path and job package are re-bound read-only and the
// job's own output directory read-write, matching repx-executor's
// build_bwrap_command.
func (e *Executor) buildBwrapCommand(ctx context.Context, scriptPath string, args []string) *exec.Cmd {
	bwrapArgs := []string{
		"--dev-bind", "/", "/",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--ro-bind", e.req.BasePath, e.req.BasePath,
		"--ro-bind", e.req.JobPackagePath, e.req.JobPackagePath,
		"--bind", e.req.UserOutDir, e.req.UserOutDir,
		scriptPath,
	}
	bwrapArgs = append(bwrapArgs, args...)
	return exec.CommandContext(ctx, "bwrap", bwrapArgs...)
}

// buildContainerCommand runs scriptPath inside imageTag via docker/podman
// run --rm, mounting BasePath at the same path so the job's relative
// path templates resolve unchanged inside the container.
func (e *Executor) buildContainerCommand(ctx context.Context, runtimeName, imageTag, scriptPath string, args []string) *exec.Cmd {
	containerArgs := []string{
		"run", "--rm",
		"--volume", fmt.Sprintf("%s:%s", e.req.BasePath, e.req.BasePath),
		"--workdir", e.req.UserOutDir,
		imageTag,
		scriptPath,
	}
	containerArgs = append(containerArgs, args...)
	return exec.CommandContext(ctx, runtimeName, containerArgs...)
}

// ensureImageLoaded guards the (runtime, imageTag) load with a
// cross-process exclusive file lock so that concurrent local workers on
// one host do not race to "<runtime> load" the same tarball. Loading
// itself -- parsing tarball paths, tagging the result -- is a
// container-runtime invocation detail out of scope here; this stops at
// "is the image already present" and otherwise shells directly to the
// runtime's own load verb.
func (e *Executor) ensureImageLoaded(ctx context.Context, runtimeName, imageTag string) error {
	imageHash := imageTag
	if i := strings.LastIndex(imageTag, ":"); i >= 0 {
		imageHash = imageTag[i+1:]
	}
	lockPath := filepath.Join(os.TempDir(), fmt.Sprintf("repx-load-%s.lock", imageHash))
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquiring image load lock for %q: %w", imageTag, err)
	}
	defer fl.Unlock()

	check := exec.CommandContext(ctx, runtimeName, "images", "-q", imageTag)
	out, err := check.Output()
	if err == nil && len(strings.TrimSpace(string(out))) > 0 {
		return nil
	}

	imagePath := filepath.Join(e.req.BasePath, "artifacts", "images", imageHash+".tar")
	if _, err := os.Stat(imagePath); err != nil {
		return &repxerr.JobPackageIOError{JobID: string(e.req.JobID), Path: imagePath, Err: err}
	}

	load := exec.CommandContext(ctx, runtimeName, "load", "-i", imagePath)
	if loadOut, err := load.CombinedOutput(); err != nil {
		return &repxerr.ExecutionFailedError{
			Message:    fmt.Sprintf("%s load failed for image %q", runtimeName, imageTag),
			LogSummary: string(loadOut),
		}
	}
	return nil
}
