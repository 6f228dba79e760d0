package observer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/call"
	"github.com/voxwire/voxwire/internal/transcript"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func recv(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcastFiltersByCall(t *testing.T) {
	t.Parallel()

	h := testHub()
	all := h.Subscribe("")
	one := h.Subscribe("CA1")
	other := h.Subscribe("CA2")

	h.Broadcast(Event{CallSid: "CA1", Type: "call.started"})

	if ev := recv(t, all); ev.CallSid != "CA1" {
		t.Errorf("unfiltered subscriber got %+v", ev)
	}
	if ev := recv(t, one); ev.Type != "call.started" {
		t.Errorf("CA1 subscriber got %+v", ev)
	}
	select {
	case ev := <-other.Events():
		t.Errorf("CA2 subscriber got %+v, want nothing", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowObserverIsDropped(t *testing.T) {
	t.Parallel()

	h := testHub()
	slow := h.Subscribe("")

	// Overflow the buffer without ever reading.
	for i := 0; i < defaultBuffer+1; i++ {
		h.Broadcast(Event{CallSid: "CA1", Type: "tick"})
	}

	// Drain: the channel must be closed after the buffered events.
	seen := 0
	for range slow.Events() {
		seen++
	}
	if seen != defaultBuffer {
		t.Errorf("drained %d events, want the %d buffered before the drop", seen, defaultBuffer)
	}

	// A dropped subscriber no longer counts; broadcasting must not panic.
	h.Broadcast(Event{CallSid: "CA1", Type: "tick"})
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	h := testHub()
	sub := h.Subscribe("CA1")
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	if _, ok := <-sub.Events(); ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestHandleTranscriptBecomesEvent(t *testing.T) {
	t.Parallel()

	h := testHub()
	sub := h.Subscribe("CA1")

	at := time.Now()
	h.HandleTranscript(context.Background(),
		call.CallInfo{CallSid: "CA1"},
		transcript.Entry{Speaker: call.SpeakerCaller, Text: "hello there", Timestamp: at})

	ev := recv(t, sub)
	if ev.Type != "transcript" || ev.Speaker != "Caller" || ev.Text != "hello there" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, at)
	}
}
