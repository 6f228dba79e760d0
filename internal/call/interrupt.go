package call

import (
	"context"
	"log/slog"

	"github.com/voxwire/voxwire/internal/observe"
)

// TelephonyControl is the slice of the telephony leg the call machinery
// needs: outbound media, playback flush, and synchronization marks.
type TelephonyControl interface {
	SendMedia(ctx context.Context, payload []byte) error
	SendMark(ctx context.Context, name string) error
	SendClear(ctx context.Context) error
}

// AIControl is the slice of the realtime AI leg the call machinery needs.
// The session behind it may be swapped during renewal; implementations must
// route every call to the live session.
type AIControl interface {
	AppendAudio(audio []byte) error
	ClearInput() error
	CommitInput() error
	CancelResponse() error
	CreateResponse(instructions string) error
	TruncateItem(itemID string, audioEndMs int) error
}

// InterruptController reacts to the caller starting to speak while the AI
// is talking. It cuts buffered playback on both legs so the AI can listen.
type InterruptController struct {
	log       *slog.Logger
	metrics   *observe.Metrics
	telephony TelephonyControl
	ai        AIControl
	pacer     *Pacer
	response  *ResponseTracker
	marks     *MarkTracker
}

func NewInterruptController(log *slog.Logger, metrics *observe.Metrics, telephony TelephonyControl, ai AIControl, pacer *Pacer, response *ResponseTracker, marks *MarkTracker) *InterruptController {
	return &InterruptController{
		log:       log,
		metrics:   metrics,
		telephony: telephony,
		ai:        ai,
		pacer:     pacer,
		response:  response,
		marks:     marks,
	}
}

// Interrupt runs the barge-in sequence: flush the provider's playback
// buffer, cancel the in-flight AI response, drain queued audio, reset
// response tracking, and emit a fresh mark to re-synchronize. The first two
// steps are best-effort; a failed control frame must not stall the caller's
// new utterance.
func (c *InterruptController) Interrupt(ctx context.Context) {
	if err := c.telephony.SendClear(ctx); err != nil {
		c.log.Warn("interrupt: clear playback failed", "error", err)
	}
	if err := c.ai.CancelResponse(); err != nil {
		c.log.Warn("interrupt: cancel response failed", "error", err)
	}

	// Cut the interrupted item's conversation history down to what the
	// caller actually heard, approximated by time since the first delta.
	if itemID, elapsed, ok := c.response.Playing(); ok && c.marks.Outstanding() > 0 {
		if err := c.ai.TruncateItem(itemID, int(elapsed.Milliseconds())); err != nil {
			c.log.Warn("interrupt: truncate item failed", "error", err)
		}
	}

	dropped := c.pacer.Drain(ctx)

	c.response.Reset()
	c.marks.Reset()

	if err := c.telephony.SendMark(ctx, MarkName); err != nil {
		c.log.Warn("interrupt: sync mark failed", "error", err)
	} else {
		c.marks.Sent()
	}

	c.metrics.BargeIns.Add(ctx, 1)
	c.log.Info("caller barge-in handled", "dropped_packets", dropped)
}
