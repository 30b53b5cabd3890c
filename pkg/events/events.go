// Package events defines the typed, best-effort progress stream emitted
// by the submission code path and consumed by an optional UI.
package events

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/repx-org/repx/pkg/lab"
	"github.com/repx-org/repx/pkg/metrics"
)

// Kind enumerates the submission-progress event variants.
type Kind int

const (
	DeployingBinary Kind = iota
	SyncingArtifacts
	SyncingArtifactProgress
	SyncingFinished
	GeneratingBatchScripts
	ExecutingOrchestrator
	SubmittingJobs
	JobSubmitted
	JobStarted
	WaveCompleted
)

func (k Kind) String() string {
	switch k {
	case DeployingBinary:
		return "deploying_binary"
	case SyncingArtifacts:
		return "syncing_artifacts"
	case SyncingArtifactProgress:
		return "syncing_artifact_progress"
	case SyncingFinished:
		return "syncing_finished"
	case GeneratingBatchScripts:
		return "generating_batch_scripts"
	case ExecutingOrchestrator:
		return "executing_orchestrator"
	case SubmittingJobs:
		return "submitting_jobs"
	case JobSubmitted:
		return "job_submitted"
	case JobStarted:
		return "job_started"
	case WaveCompleted:
		return "wave_completed"
	default:
		return "unknown"
	}
}

// Event is one point-in-time progress notification. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind Kind

	// SubmissionID correlates every event emitted by one submit() call,
	// mirroring boskos' practice of tagging related log lines; unlike
	// boskos this is attached to outbound events rather than log
	// entries, since events (not logs) are the UI-facing contract here.
	SubmissionID uuid.UUID

	Total   int
	Current int
	Path    string
	NumJobs int
	JobID   lab.JobID
	BatchID int
	PID     int
	Wave    int
}

// Sender is a one-way, best-effort event emitter: a missing or
// backed-up receiver never blocks the caller.
type Sender struct {
	ch           chan<- Event
	submissionID uuid.UUID
}

// NewSender wraps ch, a channel the caller owns the receive side of.
// ch may be nil, in which case Send only updates the event counter.
func NewSender(ch chan<- Event) Sender {
	return Sender{ch: ch, submissionID: uuid.New()}
}

// Send counts ev in metrics.EventsTotal and delivers it, dropping it
// silently if the channel is nil, or with a debug log line if it is full.
func (s Sender) Send(ev Event) {
	metrics.EventsTotal.WithLabelValues(ev.Kind.String()).Inc()
	if s.ch == nil {
		return
	}
	ev.SubmissionID = s.submissionID
	select {
	case s.ch <- ev:
	default:
		logrus.WithField("kind", ev.Kind).Debug("dropping event: receiver not ready")
	}
}
