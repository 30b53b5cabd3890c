package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withXDGConfigHome(t *testing.T, dir string) {
	t.Helper()
	old, hadOld := os.LookupEnv("XDG_CONFIG_HOME")
	require.NoError(t, os.Setenv("XDG_CONFIG_HOME", dir))
	t.Cleanup(func() {
		if hadOld {
			os.Setenv("XDG_CONFIG_HOME", old)
		} else {
			os.Unsetenv("XDG_CONFIG_HOME")
		}
	})
}

func TestLoadCreatesDefaultConfigOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	withXDGConfigHome(t, dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.SubmissionTarget)
	require.Contains(t, cfg.Targets, "local")

	_, err = os.Stat(filepath.Join(dir, "repx", "config.toml"))
	require.NoError(t, err, "config.toml should be created on first load")
	_, err = os.Stat(filepath.Join(dir, "repx", "resources.toml"))
	require.NoError(t, err, "resources.toml should be created alongside it")
}

func TestLoadExpandsTildeInBasePath(t *testing.T) {
	dir := t.TempDir()
	withXDGConfigHome(t, dir)

	cfg, err := Load()
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "repx-store"), cfg.Targets["local"].BasePath)
}

func TestLoadRejectsRelativeBasePathForLocalTarget(t *testing.T) {
	dir := t.TempDir()
	withXDGConfigHome(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "repx"), 0o755))
	bad := `
submission_target = "local"
[targets.local]
base_path = "relative/path"
scheduler = "local"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repx", "config.toml"), []byte(bad), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestSlurmMapPathRespectsXDGStateHome(t *testing.T) {
	dir := t.TempDir()
	old, hadOld := os.LookupEnv("XDG_STATE_HOME")
	require.NoError(t, os.Setenv("XDG_STATE_HOME", dir))
	t.Cleanup(func() {
		if hadOld {
			os.Setenv("XDG_STATE_HOME", old)
		} else {
			os.Unsetenv("XDG_STATE_HOME")
		}
	})

	p, err := SlurmMapPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "repx", "slurm_map.json"), p)
}
