package lab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repx-org/repx/pkg/repxerr"
)

const fixtureMetadata = `{
  "schema_version": "1",
  "revision": "deadbeef",
  "runs": {},
  "jobs": {
    "job-a": {
      "stage_type": "simple",
      "executables": {
        "main": {"path": "bin/main", "inputs": [], "outputs": {"default": "$out/r.txt"}}
      }
    }
  }
}`

func writeFixtureLab(t *testing.T, nested bool) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "jobs", "job-a"), 0o755))

	if nested {
		dir := filepath.Join(root, "revision", "abc123-experiment-metadata-json")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(fixtureMetadata), 0o644))
	} else {
		require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.json"), []byte(fixtureMetadata), 0o644))
	}
	return root
}

func TestLoadDirectMetadataLayout(t *testing.T) {
	root := writeFixtureLab(t, false)
	l, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "", l.ContentHash, "a direct metadata.json carries no recoverable content hash")
	assert.Contains(t, l.Jobs, JobID("job-a"))
	assert.Equal(t, "host-tools", l.HostToolsDirName)
}

func TestLoadNestedRevisionLayoutRecoversContentHash(t *testing.T) {
	root := writeFixtureLab(t, true)
	l, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "abc123", l.ContentHash)
}

func TestLoadMissingLabDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	var target *repxerr.LabNotFoundError
	require.ErrorAs(t, err, &target)
}

func TestLoadMissingMetadata(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root)
	var target *repxerr.MetadataNotFoundError
	require.ErrorAs(t, err, &target)
}

func TestLoadMissingJobsDirFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.json"), []byte(`{"jobs":{},"runs":{}}`), 0o644))
	_, err := Load(root)
	require.Error(t, err)
}

func TestLoadMissingJobPackageDirFails(t *testing.T) {
	root := t.TempDir()
	meta := `{"jobs":{"job-a":{"stage_type":"simple","executables":{"main":{"path":"bin/main","inputs":[],"outputs":{}}}}},"runs":{}}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.json"), []byte(meta), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "jobs"), 0o755))
	_, err := Load(root)
	require.Error(t, err, "job-a's own package directory is missing under jobs/")
}

func TestLoadMissingRunImageFails(t *testing.T) {
	root := writeFixtureLab(t, false)
	meta := `{
  "schema_version": "1",
  "runs": {"r1": {"jobs": ["job-a"], "image": "images/missing.tar"}},
  "jobs": {
    "job-a": {"stage_type": "simple", "executables": {"main": {"path": "bin/main", "inputs": [], "outputs": {}}}}
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "metadata.json"), []byte(meta), 0o644))
	_, err := Load(root)
	require.Error(t, err)
}
