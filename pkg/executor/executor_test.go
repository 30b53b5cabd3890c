package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
)

func TestParseRuntime(t *testing.T) {
	rt, err := ParseRuntime("native", "")
	require.NoError(t, err)
	assert.Equal(t, Runtime{Kind: "native"}, rt)

	rt, err = ParseRuntime("docker", "myimage:latest")
	require.NoError(t, err)
	assert.Equal(t, Runtime{Kind: "docker", ImageTag: "myimage:latest"}, rt)

	_, err = ParseRuntime("docker", "")
	var cfgErr *repxerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, err = ParseRuntime("bogus", "")
	require.Error(t, err)
}

func writeExecutable(t *testing.T, path string, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

func TestExecuteScriptCapturesStdoutAndStderr(t *testing.T) {
	base := t.TempDir()
	repxDir := filepath.Join(base, "repx")
	require.NoError(t, os.MkdirAll(repxDir, 0o755))

	script := filepath.Join(base, "run.sh")
	writeExecutable(t, script, "echo out-line\necho err-line 1>&2\n")

	ex := New(Request{JobID: lab.JobID("job-1"), Runtime: Runtime{Kind: "native"}, RepxOutDir: repxDir})
	require.NoError(t, ex.ExecuteScript(context.Background(), script, nil))

	stdout, err := os.ReadFile(filepath.Join(repxDir, "stdout.log"))
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "out-line")

	stderr, err := os.ReadFile(filepath.Join(repxDir, "stderr.log"))
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "err-line")
}

func TestExecuteScriptNonZeroExitReturnsExecutionFailed(t *testing.T) {
	base := t.TempDir()
	repxDir := filepath.Join(base, "repx")
	require.NoError(t, os.MkdirAll(repxDir, 0o755))

	script := filepath.Join(base, "fail.sh")
	writeExecutable(t, script, "echo boom 1>&2\nexit 3\n")

	ex := New(Request{JobID: lab.JobID("job-1"), Runtime: Runtime{Kind: "native"}, RepxOutDir: repxDir})
	err := ex.ExecuteScript(context.Background(), script, nil)
	require.Error(t, err)

	var execErr *repxerr.ExecutionFailedError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.LogSummary, "boom")
}

func TestBuildCommandBwrapBindsExpectedPaths(t *testing.T) {
	ex := New(Request{
		JobID:          lab.JobID("job-1"),
		Runtime:        Runtime{Kind: "bwrap"},
		BasePath:       "/base",
		JobPackagePath: "/base/jobs/job-1",
		UserOutDir:     "/base/outputs/job-1/out",
	})
	cmd, err := ex.BuildCommand(context.Background(), "/base/jobs/job-1/bin/main", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "bwrap", filepath.Base(cmd.Path))
	assert.Contains(t, cmd.Args, "/base")
	assert.Contains(t, cmd.Args, "/base/outputs/job-1/out")
}

func TestBuildCommandUnsupportedRuntime(t *testing.T) {
	ex := New(Request{Runtime: Runtime{Kind: "bogus"}})
	_, err := ex.BuildCommand(context.Background(), "script", nil)
	var cfgErr *repxerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
