package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilSenderSendIsNoOp(t *testing.T) {
	var s Sender
	assert.NotPanics(t, func() { s.Send(Event{Kind: JobStarted}) })
}

func TestSendDeliversAndTagsSubmissionID(t *testing.T) {
	ch := make(chan Event, 1)
	s := NewSender(ch)
	s.Send(Event{Kind: JobSubmitted, JobID: "job-a"})

	select {
	case ev := <-ch:
		require.Equal(t, JobSubmitted, ev.Kind)
		assert.NotEqual(t, uuid.Nil, ev.SubmissionID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestSendDropsWithoutBlockingWhenChannelIsFull(t *testing.T) {
	ch := make(chan Event, 1)
	s := NewSender(ch)
	s.Send(Event{Kind: WaveCompleted, Wave: 1})

	done := make(chan struct{})
	go func() {
		s.Send(Event{Kind: WaveCompleted, Wave: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full channel instead of dropping")
	}

	ev := <-ch
	assert.Equal(t, 1, ev.Wave, "the first buffered event should still be wave 1")
}

func TestSameSenderTagsAllEventsWithOneSubmissionID(t *testing.T) {
	ch := make(chan Event, 2)
	s := NewSender(ch)
	s.Send(Event{Kind: DeployingBinary})
	s.Send(Event{Kind: SyncingFinished})

	first := <-ch
	second := <-ch
	assert.Equal(t, first.SubmissionID, second.SubmissionID)
}
