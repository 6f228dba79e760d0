package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
)

// defaultSettle is how long caller audio is left to accumulate after a human
// hands the call back, before the input buffer is committed so the AI
// resumes with fresh context.
const defaultSettle = 300 * time.Millisecond

// TakeoverRouter switches the call between AI control and human control.
// While a human holds the call, AI audio is suppressed and caller audio is
// mirrored to the operator; the AI keeps listening so it can resume
// seamlessly when control is handed back.
type TakeoverRouter struct {
	log       *slog.Logger
	metrics   *observe.Metrics
	telephony TelephonyControl
	ai        AIControl
	pacer     *Pacer
	settle    time.Duration

	mu     sync.Mutex
	active bool
	// human delivers caller audio to the connected operator stream.
	human func(payload []byte) error
}

func NewTakeoverRouter(log *slog.Logger, metrics *observe.Metrics, telephony TelephonyControl, ai AIControl, pacer *Pacer) *TakeoverRouter {
	return &TakeoverRouter{
		log:       log,
		metrics:   metrics,
		telephony: telephony,
		ai:        ai,
		pacer:     pacer,
		settle:    defaultSettle,
	}
}

// Active reports whether a human currently controls the call.
func (r *TakeoverRouter) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Enable hands the call to a human: AI playback is flushed on both legs and
// the pending caller input is discarded so the AI does not answer over the
// operator. Idempotent.
func (r *TakeoverRouter) Enable(ctx context.Context) {
	r.mu.Lock()
	already := r.active
	r.active = true
	r.mu.Unlock()
	if already {
		return
	}

	if err := r.telephony.SendClear(ctx); err != nil {
		r.log.Warn("takeover: clear playback failed", "error", err)
	}
	if err := r.ai.CancelResponse(); err != nil {
		r.log.Warn("takeover: cancel response failed", "error", err)
	}
	if err := r.ai.ClearInput(); err != nil {
		r.log.Warn("takeover: clear input failed", "error", err)
	}
	r.pacer.Drain(ctx)

	r.metrics.RecordTakeover(ctx, "enable")
	r.metrics.HumanControlled.Add(ctx, 1)
	r.log.Info("human takeover enabled")
}

// Disable hands the call back to the AI. The input buffer is cleared, left
// to settle briefly so the caller's next words land in it, then committed.
// Idempotent.
func (r *TakeoverRouter) Disable(ctx context.Context) {
	r.mu.Lock()
	wasActive := r.active
	r.active = false
	r.mu.Unlock()
	if !wasActive {
		return
	}

	if err := r.ai.CancelResponse(); err != nil {
		r.log.Warn("takeover: cancel response failed", "error", err)
	}
	if err := r.ai.ClearInput(); err != nil {
		r.log.Warn("takeover: clear input failed", "error", err)
	}

	timer := time.NewTimer(r.settle)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := r.ai.CommitInput(); err != nil {
		r.log.Warn("takeover: commit input failed", "error", err)
	}

	r.metrics.RecordTakeover(ctx, "disable")
	r.metrics.HumanControlled.Add(ctx, -1)
	r.log.Info("human takeover disabled")
}

// AttachHuman registers the operator audio stream. Caller audio is mirrored
// through send while takeover is active.
func (r *TakeoverRouter) AttachHuman(send func(payload []byte) error) {
	r.mu.Lock()
	r.human = send
	r.mu.Unlock()
}

// DetachHuman unregisters the operator stream. If the operator disconnects
// while still holding the call, control falls back to the AI so the caller
// is not left in silence.
func (r *TakeoverRouter) DetachHuman(ctx context.Context) {
	r.mu.Lock()
	r.human = nil
	wasActive := r.active
	r.mu.Unlock()
	if wasActive {
		r.log.Warn("operator stream lost while in control, returning call to AI")
		r.Disable(ctx)
	}
}

// MirrorCaller forwards one caller packet to the operator stream, if a
// human holds the call and a stream is attached. Best-effort.
func (r *TakeoverRouter) MirrorCaller(payload []byte) {
	r.mu.Lock()
	send := r.human
	active := r.active
	r.mu.Unlock()
	if !active || send == nil {
		return
	}
	if err := send(payload); err != nil {
		r.log.Debug("mirror to operator failed", "error", err)
	}
}

// HumanAudio plays operator audio to the caller and feeds it to the AI's
// input buffer so the model hears both sides of the conversation.
func (r *TakeoverRouter) HumanAudio(ctx context.Context, payload []byte) error {
	if !r.Active() {
		return nil
	}
	if err := r.telephony.SendMedia(ctx, payload); err != nil {
		return err
	}
	r.metrics.RecordAudioPacket(ctx, "human_to_caller")
	if err := r.ai.AppendAudio(payload); err != nil {
		r.log.Debug("human audio to AI failed", "error", err)
	}
	return nil
}
