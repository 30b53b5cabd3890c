package batchmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/lab"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "slurm_map.json"))
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot())
}

func TestLoadMalformedFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slurm_map.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, m.Snapshot())
}

func TestInsertPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slurm_map.json")
	m, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, m.Insert("job-a", Entry{Target: "safari", BatchID: 42}))

	reloaded, err := Load(path)
	require.NoError(t, err)
	entry, ok := reloaded.Get("job-a")
	require.True(t, ok)
	if diff := cmp.Diff(Entry{Target: "safari", BatchID: 42}, entry); diff != "" {
		t.Errorf("reloaded entry mismatch (-want +got):\n%s", diff)
	}
}

func TestEvictTerminalRemovesSucceededAndFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slurm_map.json")
	m, _ := Load(path)
	require.NoError(t, m.Insert("succeeded-job", Entry{Target: "t", BatchID: 1}))
	require.NoError(t, m.Insert("failed-job", Entry{Target: "t", BatchID: 2}))
	require.NoError(t, m.Insert("running-job", Entry{Target: "t", BatchID: 3}))

	statuses := map[lab.JobID]engine.JobStatus{
		"succeeded-job": {Status: engine.StatusSucceeded},
		"failed-job":    {Status: engine.StatusFailed},
		"running-job":   {Status: engine.StatusRunning},
	}
	require.NoError(t, m.EvictTerminal(statuses))

	snap := m.Snapshot()
	assert.NotContains(t, snap, lab.JobID("succeeded-job"))
	assert.NotContains(t, snap, lab.JobID("failed-job"))
	assert.Contains(t, snap, lab.JobID("running-job"))
}
