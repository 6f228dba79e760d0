package call

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
)

// MarkName is the label attached to every synchronization mark sent after a
// media frame. The provider echoes it back once the frame has been played.
const MarkName = "responsePart"

// MarkTracker counts outstanding synchronization marks and measures the
// round trip of the first mark in each AI response, which approximates the
// caller-perceived playback delay.
type MarkTracker struct {
	metrics *observe.Metrics

	mu          sync.Mutex
	outstanding int
	firstSentAt time.Time
	measured    bool
}

func NewMarkTracker(metrics *observe.Metrics) *MarkTracker {
	return &MarkTracker{metrics: metrics}
}

// Sent records that a mark was written to the telephony leg.
func (t *MarkTracker) Sent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstanding++
	if !t.measured && t.firstSentAt.IsZero() {
		t.firstSentAt = time.Now()
	}
}

// Echoed records a mark echo from the provider. The first echo after a Reset
// feeds the round-trip histogram.
func (t *MarkTracker) Echoed(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outstanding > 0 {
		t.outstanding--
	}
	if !t.measured && !t.firstSentAt.IsZero() {
		t.metrics.MarkRoundtrip.Record(ctx, time.Since(t.firstSentAt).Seconds())
		t.measured = true
	}
}

// Outstanding returns how many marks have been sent but not yet echoed.
func (t *MarkTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding
}

// Reset clears outstanding marks and re-arms the round-trip measurement for
// the next response.
func (t *MarkTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outstanding = 0
	t.firstSentAt = time.Time{}
	t.measured = false
}

// ResponseTracker remembers which AI response item is currently streaming to
// the caller, so interruptions and goodbye detection can reference it.
type ResponseTracker struct {
	mu        sync.Mutex
	itemID    string
	speaking  bool
	startedAt time.Time
}

// Track records an audio delta for the given item and marks the AI as
// speaking. The first item of a response wins; later deltas for the same
// response keep it.
func (r *ResponseTracker) Track(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaking = true
	if r.itemID == "" {
		r.itemID = itemID
		r.startedAt = time.Now()
	}
}

// Current returns the item ID of the response in flight, if any.
func (r *ResponseTracker) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.itemID
}

// Playing returns the in-flight item and how long it has been playing.
// ok is false when no response is being tracked.
func (r *ResponseTracker) Playing() (itemID string, elapsed time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.itemID == "" {
		return "", 0, false
	}
	return r.itemID, time.Since(r.startedAt), true
}

// Speaking reports whether AI audio is currently in flight.
func (r *ResponseTracker) Speaking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speaking
}

// Reset clears all response state, typically after an interruption or when
// a response finishes playing.
func (r *ResponseTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemID = ""
	r.speaking = false
	r.startedAt = time.Time{}
}
