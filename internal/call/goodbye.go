package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/realtime"
)

// Terminator tears a call down once the goodbye has played out: hang up the
// provider leg and close the media stream.
type Terminator interface {
	Terminate(ctx context.Context, trigger string)
}

// FarewellState tracks progress through the hangup handshake.
type FarewellState int

const (
	// FarewellIdle means no hangup has been requested.
	FarewellIdle FarewellState = iota
	// FarewellPending means the goodbye response was requested but no
	// audio for it has been heard yet.
	FarewellPending
	// FarewellAudioHeard means goodbye audio started streaming.
	FarewellAudioHeard
	// FarewellFinalized means termination is underway or complete.
	FarewellFinalized
)

// Finalizer drives the graceful hangup: on the first end-of-call request it
// asks the AI to speak a one-sentence farewell, waits for that audio to
// finish, then (after a short grace so the tail reaches the caller) tears
// the call down. A watchdog forces termination if no farewell audio ever
// arrives.
type Finalizer struct {
	log      *slog.Logger
	metrics  *observe.Metrics
	ai       AIControl
	term     Terminator
	company  string
	grace    time.Duration
	watchdog time.Duration

	mu         sync.Mutex
	state      FarewellState
	itemID     string
	watchTimer *time.Timer
}

func NewFinalizer(log *slog.Logger, metrics *observe.Metrics, ai AIControl, term Terminator, company string, grace, watchdog time.Duration) *Finalizer {
	if company == "" {
		company = "the company"
	}
	return &Finalizer{
		log:      log,
		metrics:  metrics,
		ai:       ai,
		term:     term,
		company:  company,
		grace:    grace,
		watchdog: watchdog,
	}
}

// State returns the current farewell state.
func (f *Finalizer) State() FarewellState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Finalizer) farewell(reason string) string {
	prompt := fmt.Sprintf("Please deliver a brief, polite goodbye to the caller on behalf of %s. "+
		"Keep it to one short sentence. Do not call any tools; speak the goodbye now.", f.company)
	if strings.TrimSpace(reason) != "" {
		prompt += " Acknowledge that the caller requested to end the call."
	}
	return prompt
}

// Request starts the hangup handshake. Duplicate requests while one is in
// flight are ignored and return false.
func (f *Finalizer) Request(reason string) bool {
	f.mu.Lock()
	if f.state != FarewellIdle {
		f.mu.Unlock()
		f.log.Debug("hangup already in progress, ignoring request", "reason", reason)
		return false
	}
	f.state = FarewellPending
	f.watchTimer = time.AfterFunc(f.watchdog, f.watchdogFired)
	f.mu.Unlock()

	if err := f.ai.CreateResponse(f.farewell(reason)); err != nil {
		f.log.Warn("goodbye response request failed", "error", err)
	}
	f.log.Info("hangup requested, awaiting farewell audio", "reason", reason)
	return true
}

// AudioHeard records that goodbye audio started streaming. The first item
// carrying it is remembered so completion events can be matched.
func (f *Finalizer) AudioHeard(itemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FarewellPending {
		return
	}
	f.state = FarewellAudioHeard
	if f.itemID == "" {
		f.itemID = itemID
	}
	if f.watchTimer != nil {
		f.watchTimer.Stop()
	}
	f.log.Debug("farewell audio heard", "item_id", itemID)
}

// ShouldFinalizeOnAudioDone reports whether an audio-done event completes
// the farewell.
func (f *Finalizer) ShouldFinalizeOnAudioDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == FarewellAudioHeard
}

// ShouldFinalizeOnResponseDone reports whether a finished response completes
// the farewell: either it contains the tracked goodbye item, or no item was
// tracked and the response carries assistant audio.
func (f *Finalizer) ShouldFinalizeOnResponseDone(done realtime.ResponseDone) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FarewellAudioHeard {
		return false
	}
	if f.itemID == "" {
		return done.HasAssistantAudio()
	}
	for _, item := range done.Output {
		if item.ID == f.itemID {
			return true
		}
	}
	return false
}

func (f *Finalizer) watchdogFired() {
	f.mu.Lock()
	if f.state != FarewellPending {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.log.Warn("no farewell audio before deadline, forcing hangup")
	f.Finalize("watchdog")
}

// Finalize schedules termination: after the grace period the provider call
// is ended and the media stream closed. Idempotent.
func (f *Finalizer) Finalize(trigger string) {
	f.mu.Lock()
	if f.state == FarewellFinalized {
		f.mu.Unlock()
		return
	}
	f.state = FarewellFinalized
	if f.watchTimer != nil {
		f.watchTimer.Stop()
	}
	f.mu.Unlock()

	f.metrics.RecordEndCall(context.Background(), trigger)
	f.log.Info("finalizing call", "trigger", trigger, "grace", f.grace)

	// Termination runs on its own context: once the farewell has played,
	// the hangup must complete even if the media stream drops first.
	go func() {
		time.Sleep(f.grace)
		f.term.Terminate(context.Background(), trigger)
	}()
}
