// Package batchmap implements the persistent, cross-process record of
// JobID -> (target, batch_id) used for log tailing and cancellation.
// The locking and atomic-replace persistence strategy is
// adapted directly from boskos/ranch.Ranch.SaveState/NewRanch: a
// sync.RWMutex guards an in-memory map, and every mutation is
// persisted by marshaling to a temp file followed by an atomic rename,
// never a direct overwrite of the live file.
package batchmap

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/lab"
)

// Entry records where one job was submitted.
type Entry struct {
	Target  string `json:"target"`
	BatchID int    `json:"batch_id"`
}

// onDiskEntry is the persisted shape: {"<job_id>": ["<target>", <batch_id>]}.
type onDiskEntry [2]interface{}

// Map is a lock-guarded, disk-persisted JobID -> Entry table.
type Map struct {
	path string

	lock    sync.RWMutex
	entries map[lab.JobID]Entry
}

// Load reads path, tolerating a missing or malformed file by treating
// it as empty (matching ranch.go's NewRanch: os.IsNotExist and parse
// errors are both non-fatal at startup).
func Load(path string) (*Map, error) {
	m := &Map{path: path, entries: make(map[lab.JobID]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return m, nil
	}

	var raw map[string]onDiskEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		// Malformed state file: start fresh rather than fail startup.
		return m, nil
	}

	for jobIDStr, pair := range raw {
		target, ok := pair[0].(string)
		if !ok {
			continue
		}
		batchIDFloat, ok := pair[1].(float64)
		if !ok {
			continue
		}
		m.entries[lab.JobID(jobIDStr)] = Entry{Target: target, BatchID: int(batchIDFloat)}
	}
	return m, nil
}

// Insert records (or replaces) the batch-ID entry for jobID and
// persists the whole map before returning: every inserted pair is
// guaranteed to appear in the on-disk file once the mutation returns.
func (m *Map) Insert(jobID lab.JobID, entry Entry) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.entries[jobID] = entry
	return m.saveLocked()
}

// Get returns the entry for jobID, if any.
func (m *Map) Get(jobID lab.JobID) (Entry, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	e, ok := m.entries[jobID]
	return e, ok
}

// Snapshot returns a defensive copy of every entry.
func (m *Map) Snapshot() map[lab.JobID]Entry {
	m.lock.RLock()
	defer m.lock.RUnlock()
	out := make(map[lab.JobID]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// EvictTerminal removes entries whose job now shows Succeeded or Failed
// in statuses, and persists the result.
func (m *Map) EvictTerminal(statuses map[lab.JobID]engine.JobStatus) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	changed := false
	for jobID := range m.entries {
		st, ok := statuses[jobID]
		if !ok {
			continue
		}
		if st.Status == engine.StatusSucceeded || st.Status == engine.StatusFailed {
			delete(m.entries, jobID)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.saveLocked()
}

// saveLocked marshals the full map and atomically replaces the on-disk
// file via write-to-temp-then-rename, matching ranch.go's SaveState.
func (m *Map) saveLocked() error {
	raw := make(map[string]onDiskEntry, len(m.entries))
	for jobID, e := range m.entries {
		raw[string(jobID)] = onDiskEntry{e.Target, e.BatchID}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
