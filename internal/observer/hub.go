// Package observer fans call events out to dashboard and monitoring
// clients. Delivery is strictly best-effort: a subscriber that cannot keep
// up is dropped on the spot, because a slow observer must never stall a
// live call.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/call"
	"github.com/voxwire/voxwire/internal/transcript"
)

// Event is one observable call happening, serialized to JSON for clients.
type Event struct {
	CallSid   string    `json:"callSid"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

const defaultBuffer = 64

// Subscriber receives events for one call, or for all calls when
// unfiltered. Read from Events until it is closed.
type Subscriber struct {
	callSid string
	ch      chan Event
}

// Events is the subscriber's delivery channel. The hub closes it when the
// subscriber is dropped or unsubscribed.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Hub is the broadcast center. Safe for concurrent use.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber. An empty callSid receives events
// for every call.
func (h *Hub) Subscribe(callSid string) *Subscriber {
	sub := &Subscriber{callSid: callSid, ch: make(chan Event, defaultBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Broadcast delivers the event to every matching subscriber without ever
// waiting. A subscriber with a full buffer is dropped and its channel
// closed.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.callSid != "" && sub.callSid != event.CallSid {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			delete(h.subs, sub)
			close(sub.ch)
			h.log.Warn("slow observer dropped", "call_sid", sub.callSid)
		}
	}
}

// HandleTranscript implements transcript.Sink, turning settled transcript
// lines into observer events.
func (h *Hub) HandleTranscript(ctx context.Context, info call.CallInfo, entry transcript.Entry) {
	h.Broadcast(Event{
		CallSid:   info.CallSid,
		Type:      "transcript",
		Timestamp: entry.Timestamp,
		Speaker:   string(entry.Speaker),
		Text:      entry.Text,
	})
}

// CallStarted and CallEnded emit lifecycle events for dashboards.

func (h *Hub) CallStarted(info call.CallInfo) {
	h.Broadcast(Event{CallSid: info.CallSid, Type: "call.started", Timestamp: time.Now(), Detail: info.TenantID})
}

func (h *Hub) CallEnded(info call.CallInfo, duration time.Duration) {
	h.Broadcast(Event{CallSid: info.CallSid, Type: "call.ended", Timestamp: time.Now(), Detail: duration.String()})
}
