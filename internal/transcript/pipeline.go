// Package transcript post-processes the raw transcript lines a call
// produces: speech-to-text output for the caller, the AI's own transcript of
// what it said, and anything a human operator contributed.
//
// Three disciplines are applied before a line reaches downstream consumers:
//
//  1. Per-speaker ordering: transcription completes out of order under load,
//     so any line whose timestamp precedes the last emitted line of the same
//     speaker is dropped rather than reordered.
//
//  2. Noise filtering: very short caller acknowledgements ("ok", "thanks",
//     "bye", and phonetic near-variants of these) carry no information and
//     clutter dashboards and archives. Only caller lines are filtered; AI
//     and human-operator lines always pass.
//
//  3. Transliteration: callers whose speech is transcribed in a non-Latin
//     script can optionally be transliterated through an external model.
//     The step runs with a short timeout and fails open — the original text
//     passes through unmodified and the call is never blocked.
package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/call"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/resilience"
)

// Entry is one processed transcript line.
type Entry struct {
	Speaker   call.Speaker
	Text      string
	Timestamp time.Time
}

// Sink consumes processed transcript lines. Implementations must not block;
// slow consumers are the sink's problem, not the pipeline's.
type Sink interface {
	HandleTranscript(ctx context.Context, info call.CallInfo, entry Entry)
}

// Transliterator converts non-Latin-script text to a Latin rendering.
type Transliterator interface {
	Transliterate(ctx context.Context, text string) (string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNoiseFilter toggles dropping of short caller acknowledgements.
func WithNoiseFilter(enabled bool) Option {
	return func(p *Pipeline) { p.filterNoise = enabled }
}

// WithTransliterator enables the transliteration step. A circuit breaker
// guards the external call so a struggling model endpoint stops being asked
// instead of adding latency to every line.
func WithTransliterator(tr Transliterator, timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.translit = tr
		p.translitTimeout = timeout
		p.translitBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "transliterate",
			Logger:       p.log,
			MaxFailures:  3,
			ResetTimeout: time.Minute,
		})
	}
}

// Pipeline orders, filters, and normalizes transcript lines, then fans them
// out to the configured sinks. It implements call.TranscriptSink and is safe
// for concurrent use across calls.
type Pipeline struct {
	log     *slog.Logger
	metrics *observe.Metrics
	sinks   []Sink

	filterNoise     bool
	noise           *noiseFilter
	translit        Transliterator
	translitTimeout time.Duration
	translitBreaker *resilience.CircuitBreaker

	mu   sync.Mutex
	last map[speakerKey]time.Time
}

type speakerKey struct {
	callSid string
	speaker call.Speaker
}

func NewPipeline(log *slog.Logger, metrics *observe.Metrics, sinks []Sink, opts ...Option) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	p := &Pipeline{
		log:             log,
		metrics:         metrics,
		sinks:           sinks,
		noise:           newNoiseFilter(),
		translitTimeout: 3 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit runs one transcript line through the pipeline. Dropped lines are
// counted but never surfaced as errors.
func (p *Pipeline) Submit(ctx context.Context, info call.CallInfo, speaker call.Speaker, text string, at time.Time) {
	if text == "" {
		return
	}

	if !p.admit(info.CallSid, speaker, at) {
		p.metrics.RecordTranscript(ctx, string(speaker), "out_of_order")
		p.log.Debug("stale transcript dropped",
			"call_sid", info.CallSid, "speaker", speaker, "text", text)
		return
	}

	if p.filterNoise && speaker == call.SpeakerCaller && p.noise.isNoise(text) {
		p.metrics.RecordTranscript(ctx, string(speaker), "filtered")
		p.log.Debug("noise transcript filtered", "call_sid", info.CallSid, "text", text)
		return
	}

	text = p.maybeTransliterate(ctx, text)

	p.metrics.RecordTranscript(ctx, string(speaker), "emitted")
	entry := Entry{Speaker: speaker, Text: text, Timestamp: at}
	for _, sink := range p.sinks {
		sink.HandleTranscript(ctx, info, entry)
	}
}

// Forget releases the ordering state of a finished call.
func (p *Pipeline) Forget(callSid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.last {
		if key.callSid == callSid {
			delete(p.last, key)
		}
	}
}

// admit enforces per-speaker monotonic timestamps. Equal timestamps are
// admitted; only a strict regression is rejected.
func (p *Pipeline) admit(callSid string, speaker call.Speaker, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		p.last = make(map[speakerKey]time.Time)
	}
	key := speakerKey{callSid: callSid, speaker: speaker}
	if last, ok := p.last[key]; ok && at.Before(last) {
		return false
	}
	p.last[key] = at
	return true
}

func (p *Pipeline) maybeTransliterate(ctx context.Context, text string) string {
	if p.translit == nil || !needsTransliteration(text) {
		return text
	}

	start := time.Now()
	var out string
	err := p.translitBreaker.Execute(func() error {
		tctx, cancel := context.WithTimeout(ctx, p.translitTimeout)
		defer cancel()
		var err error
		out, err = p.translit.Transliterate(tctx, text)
		return err
	})
	p.metrics.TransliterateDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil || out == "" {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			p.log.Warn("transliteration failed, passing text through", "error", err)
		}
		return text
	}
	return out
}
