package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/observe"
)

// PacerSink receives packets popped from the pacer queue, one at a time.
type PacerSink interface {
	Play(ctx context.Context, pkt Packet) error
}

// Pacer queues AI audio and releases it to the sink at real-time speed.
// The queue is unbounded; backpressure on the telephony leg is handled by
// pacing, not by blocking the producer. A single Run loop consumes it.
type Pacer struct {
	log     *slog.Logger
	metrics *observe.Metrics
	sink    PacerSink

	// gated reports whether AI audio is currently suppressed (a human
	// operator holds the call). Gated packets are dropped, not delayed.
	gated func() bool

	mu     sync.Mutex
	queue  []Packet
	notify chan struct{}
}

func NewPacer(log *slog.Logger, metrics *observe.Metrics, sink PacerSink, gated func() bool) *Pacer {
	if gated == nil {
		gated = func() bool { return false }
	}
	return &Pacer{
		log:     log,
		metrics: metrics,
		sink:    sink,
		gated:   gated,
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue appends a packet to the tail of the queue. Safe for concurrent use.
func (p *Pacer) Enqueue(pkt Packet) {
	p.mu.Lock()
	p.queue = append(p.queue, pkt)
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued packets.
func (p *Pacer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Drain removes every queued packet synchronously and returns how many were
// discarded. The packet currently being played, if any, is not affected.
func (p *Pacer) Drain(ctx context.Context) int {
	p.mu.Lock()
	n := len(p.queue)
	p.queue = nil
	p.mu.Unlock()
	if n > 0 {
		p.metrics.RecordDroppedPackets(ctx, "interrupted", int64(n))
	}
	return n
}

func (p *Pacer) pop() (Packet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Packet{}, false
	}
	pkt := p.queue[0]
	p.queue = p.queue[1:]
	return pkt, true
}

// Run consumes the queue until ctx is done. Each packet is handed to the
// sink and then the loop sleeps for the packet's playback duration, so audio
// leaves at the rate the caller can hear it.
func (p *Pacer) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		pkt, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.notify:
				continue
			}
		}

		if p.gated() {
			p.metrics.RecordDroppedPackets(ctx, "human_control", 1)
			continue
		}

		if err := p.sink.Play(ctx, pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn("pacer: play failed", "error", err)
			continue
		}
		p.metrics.RecordAudioPacket(ctx, "ai_to_caller")

		timer.Reset(pkt.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
