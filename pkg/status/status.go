// Package status assembles the on-demand job-status view a client
// works from: outcome markers scanned from every target, merged with
// queue state from SLURM-capable targets, propagated through the
// status engine. It also owns the two map-driven operations layered on
// that view, cancellation and log tailing, since both resolve a JobID
// through the persistent batch-ID map.
package status

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/repx-org/repx/pkg/batchmap"
	"github.com/repx-org/repx/pkg/engine"
	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/repxerr"
	"github.com/repx-org/repx/pkg/targets"
)

// Source pairs a Target with whether it carries a SLURM queue worth
// snapshotting.
type Source struct {
	Target       targets.Target
	SlurmCapable bool
}

// Collect rebuilds the full per-job status map from scratch: scan every
// source's outcome markers, evict now-terminal entries from bmap, then
// overlay queue state (Queued/Running) for jobs with no terminal marker
// yet, and propagate through the engine. The map is rebuilt on every
// call so stale entries cannot accumulate between polls.
func Collect(ctx context.Context, l *lab.Lab, sources []Source, bmap *batchmap.Map) (map[lab.JobID]engine.JobStatus, error) {
	observed := make(map[lab.JobID]engine.JobStatus)
	for _, s := range sources {
		markers, err := s.Target.CheckOutcomeMarkers(ctx)
		if err != nil {
			return nil, err
		}
		for jobID, st := range markers {
			observed[jobID] = st
		}
	}

	if bmap != nil {
		if err := bmap.EvictTerminal(observed); err != nil {
			return nil, err
		}
	}

	for _, s := range sources {
		if !s.SlurmCapable {
			continue
		}
		queued, err := s.Target.QueueSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		for jobID, info := range queued {
			if _, ok := observed[jobID]; ok {
				continue
			}
			st := engine.StatusQueued
			if info.State == targets.SlurmRunning {
				st = engine.StatusRunning
			}
			observed[jobID] = engine.JobStatus{Status: st, Location: s.Target.Name()}
		}
	}

	return engine.Determine(l, observed), nil
}

// CancelJob looks jobID up in the persistent map and cancels its batch
// job on the recorded target. A job with no map entry was never
// batch-submitted (or already evicted); cancelling it is a no-op,
// matching Client::cancel_job.
func CancelJob(ctx context.Context, bmap *batchmap.Map, byName map[string]targets.Target, jobID lab.JobID) error {
	entry, ok := bmap.Get(jobID)
	if !ok {
		return nil
	}
	target, ok := byName[entry.Target]
	if !ok {
		return &repxerr.ConfigurationError{Message: fmt.Sprintf(
			"inconsistent state: target %q from the batch-ID map is not configured", entry.Target,
		)}
	}
	return target.Cancel(ctx, entry.BatchID)
}

// LogTail reads the last lines of jobID's live log on target: the
// slurm-<batch_id>.out capture if the persistent map records a batch
// submission on this target, the plain stdout.log capture otherwise.
func LogTail(ctx context.Context, bmap *batchmap.Map, target targets.Target, jobID lab.JobID, lines int) ([]string, error) {
	repxDir := path.Join(target.BasePath(), lab.JobRepxDir(jobID))

	logName := "stdout.log"
	if entry, ok := bmap.Get(jobID); ok && entry.Target == target.Name() {
		logName = "slurm-" + strconv.Itoa(entry.BatchID) + ".out"
	}
	return target.ReadLogTail(ctx, path.Join(repxDir, logName), lines)
}
