package call

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/realtime"
	"github.com/voxwire/voxwire/pkg/telephony"
)

// EndCallTool is the function the AI invokes when the conversation should
// wrap up. Its handler drives the farewell-then-hangup handshake.
const EndCallTool = "end_call"

var errNoAISession = errors.New("call: no AI session connected")

// CallInfo identifies one live call.
type CallInfo struct {
	CallSid    string
	StreamSid  string
	AccountSid string
	TenantID   string
}

// TranscriptSink receives finished transcript lines from a call.
type TranscriptSink interface {
	Submit(ctx context.Context, info CallInfo, speaker Speaker, text string, at time.Time)
}

// Options configures a call session.
type Options struct {
	Logger  *slog.Logger
	Metrics *observe.Metrics

	// AI dials the realtime leg; AIConfig seeds every session, including
	// renewals. Audio formats are derived from AudioMode.
	AI        *realtime.Client
	AIConfig  realtime.SessionConfig
	AudioMode config.AudioMode

	// Rest is the provider REST client for hangup and recording. Nil when
	// no credentials are configured; the call then ends by closing the
	// media stream only.
	Rest              *telephony.RestClient
	Record            bool
	RecordingCallback string

	Company  string
	Greeting string

	RenewInterval time.Duration
	Grace         time.Duration
	Watchdog      time.Duration

	Transcripts TranscriptSink

	// OnStarted fires once the stream's start frame arrives, OnEnded when
	// the session run loop exits.
	OnStarted func(info CallInfo)
	OnEnded   func(info CallInfo, duration time.Duration)
}

// Session bridges one telephony media stream with one realtime AI session
// and owns every moving part in between. It implements telephony.Handler
// for inbound frames, realtime.Handler for AI events, and the control
// surfaces the HTTP layer drives.
type Session struct {
	log     *slog.Logger
	metrics *observe.Metrics
	opts    Options
	link    *telephony.Link

	// transcoder is nil in pass-through mode, where both legs speak
	// 8 kHz mu-law and payloads cross unchanged.
	transcoder *audio.Transcoder

	pacer     *Pacer
	marks     *MarkTracker
	response  *ResponseTracker
	interrupt *InterruptController
	takeover  *TakeoverRouter
	finalizer *Finalizer

	runCtx context.Context

	aiMu      sync.Mutex
	ai        *realtime.Session
	aiSwapped chan struct{}

	mu         sync.Mutex
	info       CallInfo
	startedAt  time.Time
	started    bool
	terminated bool
}

// New assembles a session around an accepted media-stream link. Run must be
// called to start it.
func New(link *telephony.Link, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		log:       opts.Logger,
		metrics:   opts.Metrics,
		opts:      opts,
		link:      link,
		marks:     NewMarkTracker(opts.Metrics),
		response:  &ResponseTracker{},
		runCtx:    context.Background(),
		aiSwapped: make(chan struct{}, 1),
	}
	if opts.AudioMode == config.AudioTranscode {
		s.transcoder = audio.NewTranscoder()
	}

	s.pacer = NewPacer(s.log, s.metrics, s, s.humanControlled)
	s.takeover = NewTakeoverRouter(s.log, s.metrics, link, s, s.pacer)
	s.interrupt = NewInterruptController(s.log, s.metrics, link, s, s.pacer, s.response, s.marks)
	s.finalizer = NewFinalizer(s.log, s.metrics, s, s, opts.Company, opts.Grace, opts.Watchdog)
	return s
}

// Info returns the call's identifiers, populated once the start frame has
// been processed.
func (s *Session) Info() CallInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// HumanControlled reports whether an operator currently holds the call.
func (s *Session) HumanControlled() bool { return s.takeover.Active() }

func (s *Session) humanControlled() bool { return s.takeover != nil && s.takeover.Active() }

// Run drives the call until the media stream ends, the context is
// cancelled, or the AI leg fails, either at dial time or mid-call.
func (s *Session) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	s.runCtx = runCtx

	aiSess, err := s.connectAI(runCtx)
	if err != nil {
		return err
	}
	s.swapAI(aiSess)
	defer func() {
		if cur := s.swapAI(nil); cur != nil {
			cur.Close()
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer stop()
		return s.link.Run(gctx, s)
	})
	g.Go(func() error { return s.pacer.Run(gctx) })
	g.Go(func() error { return s.renewLoop(gctx) })
	g.Go(func() error { return s.watchAI(gctx) })

	err = g.Wait()
	s.finish()
	return err
}

func (s *Session) finish() {
	s.mu.Lock()
	started := s.started
	info := s.info
	var duration time.Duration
	if started {
		duration = time.Since(s.startedAt)
		s.started = false
	}
	s.mu.Unlock()
	if !started {
		return
	}

	ctx := context.Background()
	s.metrics.CallDuration.Record(ctx, duration.Seconds())
	s.metrics.ActiveCalls.Add(ctx, -1)
	if s.takeover.Active() {
		s.metrics.HumanControlled.Add(ctx, -1)
	}
	s.log.Info("call finished", "call_sid", info.CallSid, "duration", duration)
	if s.opts.OnEnded != nil {
		s.opts.OnEnded(info, duration)
	}
}

// connectAI dials the realtime leg and configures it with the session's
// audio formats, VAD, and the end-of-call tool.
func (s *Session) connectAI(ctx context.Context) (*realtime.Session, error) {
	sess, err := s.opts.AI.Dial(ctx, s)
	if err != nil {
		return nil, err
	}

	cfg := s.opts.AIConfig
	if s.transcoder != nil {
		cfg.InputAudioFormat = "pcm16"
		cfg.OutputAudioFormat = "pcm16"
	} else {
		cfg.InputAudioFormat = "g711_ulaw"
		cfg.OutputAudioFormat = "g711_ulaw"
	}
	if !hasTool(cfg.Tools, EndCallTool) {
		cfg.Tools = append(cfg.Tools, realtime.Tool{
			Name:        EndCallTool,
			Description: "End the phone call after saying goodbye. Call this when the caller wants to hang up or the conversation has concluded.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the call is ending.",
					},
				},
			},
		})
	}

	if err := sess.Configure(cfg); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func hasTool(tools []realtime.Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (s *Session) currentAI() *realtime.Session {
	s.aiMu.Lock()
	defer s.aiMu.Unlock()
	return s.ai
}

func (s *Session) swapAI(next *realtime.Session) (prev *realtime.Session) {
	s.aiMu.Lock()
	prev = s.ai
	s.ai = next
	s.aiMu.Unlock()
	select {
	case s.aiSwapped <- struct{}{}:
	default:
	}
	return prev
}

// watchAI makes a dropped AI leg fatal to the whole call: a realtime socket
// that dies mid-conversation would otherwise leave the caller in silence
// until the next renewal tick. A session closed on purpose (renewal swap,
// teardown) exits its receive loop with a nil Err and the watcher re-arms on
// the replacement.
func (s *Session) watchAI(ctx context.Context) error {
	for {
		sess := s.currentAI()
		if sess == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.aiSwapped:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.aiSwapped:
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				s.log.Error("AI leg lost, ending call", "call_sid", s.Info().CallSid, "error", err)
				s.Terminate(ctx, "ai disconnected")
				return err
			}
		}
	}
}

// renewLoop replaces the AI session at a fixed interval so it never runs
// into the provider's session lifetime cap. A failed renewal leaves the
// call without an AI leg until the next tick; there is no early retry.
func (s *Session) renewLoop(ctx context.Context) error {
	if s.opts.RenewInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.opts.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.renew(ctx)
		}
	}
}

func (s *Session) renew(ctx context.Context) {
	s.log.Info("renewing AI session")
	if old := s.swapAI(nil); old != nil {
		old.Close()
	}
	sess, err := s.connectAI(ctx)
	if err != nil {
		s.metrics.RecordRenewal(ctx, "failure")
		s.log.Error("AI session renewal failed", "error", err)
		return
	}
	s.swapAI(sess)
	s.metrics.RecordRenewal(ctx, "success")
	s.log.Info("AI session renewed")
}

// Play sends one paced packet down the telephony leg, followed by a
// synchronization mark. Pacer sink.
func (s *Session) Play(ctx context.Context, pkt Packet) error {
	if err := s.link.SendMedia(ctx, pkt.Payload); err != nil {
		return err
	}
	if err := s.link.SendMark(ctx, MarkName); err != nil {
		return err
	}
	s.marks.Sent()
	return nil
}

// Terminate ends the provider call (best-effort) and closes the media
// stream. Idempotent.
func (s *Session) Terminate(ctx context.Context, trigger string) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	callSid := s.info.CallSid
	s.mu.Unlock()

	if s.opts.Rest != nil && callSid != "" {
		restCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.opts.Rest.EndCall(restCtx, callSid); err != nil {
			s.log.Warn("provider hangup failed, closing stream anyway", "call_sid", callSid, "error", err)
		}
	}
	if err := s.link.Close("call ended: " + trigger); err != nil {
		s.log.Debug("media stream close", "error", err)
	}
}

// --- control surface for the HTTP layer ---

// EnableTakeover hands the call to a human operator.
func (s *Session) EnableTakeover(ctx context.Context) { s.takeover.Enable(ctx) }

// DisableTakeover returns the call to the AI.
func (s *Session) DisableTakeover(ctx context.Context) { s.takeover.Disable(ctx) }

// AttachHumanStream registers the operator audio sink; caller audio is
// mirrored to it while takeover is active.
func (s *Session) AttachHumanStream(send func(payload []byte) error) {
	s.takeover.AttachHuman(send)
}

// DetachHumanStream unregisters the operator sink, falling back to AI
// control if the operator still held the call.
func (s *Session) DetachHumanStream(ctx context.Context) { s.takeover.DetachHuman(ctx) }

// HumanAudio plays operator audio to the caller and the AI input buffer.
func (s *Session) HumanAudio(ctx context.Context, payload []byte) error {
	return s.takeover.HumanAudio(ctx, payload)
}

// RequestHangup starts the farewell-then-hangup handshake. Returns false if
// one is already in flight.
func (s *Session) RequestHangup(reason string) bool { return s.finalizer.Request(reason) }

// --- telephony.Handler ---

func (s *Session) OnStart(start telephony.StartFrame) {
	s.mu.Lock()
	s.info = CallInfo{
		CallSid:    start.CallSid,
		StreamSid:  start.StreamSid,
		AccountSid: start.AccountSid,
		TenantID:   start.CustomParameters["tenantId"],
	}
	s.startedAt = time.Now()
	s.started = true
	info := s.info
	s.mu.Unlock()

	s.metrics.ActiveCalls.Add(s.runCtx, 1)
	s.log.Info("media stream started",
		"call_sid", info.CallSid, "stream_sid", info.StreamSid, "tenant", info.TenantID)

	if s.opts.Record && s.opts.Rest != nil && info.CallSid != "" {
		go func() {
			ctx, cancel := context.WithTimeout(s.runCtx, 10*time.Second)
			defer cancel()
			if err := s.opts.Rest.StartRecording(ctx, info.CallSid, s.opts.RecordingCallback); err != nil {
				s.log.Warn("recording start failed", "call_sid", info.CallSid, "error", err)
			}
		}()
	}

	if s.opts.Greeting != "" {
		if err := s.CreateResponse(s.opts.Greeting); err != nil {
			s.log.Warn("greeting request failed", "error", err)
		}
	}

	if s.opts.OnStarted != nil {
		s.opts.OnStarted(info)
	}
}

func (s *Session) OnMedia(payload []byte, timestamp string) {
	s.metrics.RecordAudioPacket(s.runCtx, "caller_to_ai")
	s.takeover.MirrorCaller(payload)
	if err := s.AppendAudio(payload); err != nil {
		s.log.Debug("caller audio to AI failed", "error", err)
	}
}

func (s *Session) OnMark(name string) {
	s.marks.Echoed(s.runCtx)
}

func (s *Session) OnStop() {
	s.log.Info("media stream stopped", "call_sid", s.Info().CallSid)
}

// --- realtime.Handler ---

func (s *Session) OnAudioDelta(itemID string, audioData []byte) {
	s.response.Track(itemID)
	s.finalizer.AudioHeard(itemID)

	payload := audioData
	if s.transcoder != nil {
		payload = s.transcoder.AIToTelephony(audioData)
		if payload == nil {
			return
		}
	}
	s.pacer.Enqueue(Packet{
		Speaker:    SpeakerAI,
		Payload:    payload,
		Codec:      CodecMuLaw,
		SampleRate: 8000,
		Timestamp:  time.Now(),
	})
}

func (s *Session) OnAudioDone(itemID string) {
	if s.finalizer.ShouldFinalizeOnAudioDone() {
		s.finalizer.Finalize("audio")
	}
}

func (s *Session) OnSpeechStarted() {
	if s.takeover.Active() {
		return
	}
	s.interrupt.Interrupt(s.runCtx)
}

func (s *Session) OnSpeechStopped() {
	s.log.Debug("caller stopped speaking")
}

func (s *Session) OnCallerTranscript(itemID, transcript string) {
	speaker := SpeakerCaller
	if s.takeover.Active() {
		speaker = SpeakerHuman
	}
	s.submitTranscript(speaker, transcript)
}

func (s *Session) OnAssistantTranscript(itemID, transcript string) {
	s.submitTranscript(SpeakerAI, transcript)
}

func (s *Session) submitTranscript(speaker Speaker, text string) {
	if s.opts.Transcripts == nil || text == "" {
		return
	}
	s.opts.Transcripts.Submit(s.runCtx, s.Info(), speaker, text, time.Now())
}

func (s *Session) OnFunctionCall(call realtime.FunctionCall) {
	if call.Name != EndCallTool {
		s.log.Warn("unknown tool requested", "tool", call.Name)
		return
	}
	var args struct {
		Reason string `json:"reason"`
	}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			s.log.Debug("unparseable tool arguments", "tool", call.Name, "error", err)
		}
	}
	s.finalizer.Request(args.Reason)
}

func (s *Session) OnResponseDone(resp realtime.ResponseDone) {
	if s.finalizer.ShouldFinalizeOnResponseDone(resp) {
		s.finalizer.Finalize("audio")
	}
	s.response.Reset()
}

func (s *Session) OnError(err error) {
	s.log.Warn("AI session error", "error", err)
}

// --- AIControl, routed to the live session ---

// AppendAudio feeds caller-side audio to the AI input buffer, transcoding
// from telephony mu-law when the session runs in transcode mode.
func (s *Session) AppendAudio(payload []byte) error {
	ai := s.currentAI()
	if ai == nil {
		return errNoAISession
	}
	if s.transcoder != nil {
		payload = s.transcoder.TelephonyToAI(payload)
	}
	return ai.AppendAudio(payload)
}

func (s *Session) ClearInput() error {
	ai := s.currentAI()
	if ai == nil {
		return errNoAISession
	}
	return ai.ClearInput()
}

func (s *Session) CommitInput() error {
	ai := s.currentAI()
	if ai == nil {
		return errNoAISession
	}
	return ai.CommitInput()
}

func (s *Session) CancelResponse() error {
	ai := s.currentAI()
	if ai == nil {
		return errNoAISession
	}
	return ai.CancelResponse()
}

func (s *Session) CreateResponse(instructions string) error {
	ai := s.currentAI()
	if ai == nil {
		return errNoAISession
	}
	return ai.CreateResponse(instructions)
}

func (s *Session) TruncateItem(itemID string, audioEndMs int) error {
	ai := s.currentAI()
	if ai == nil {
		return errNoAISession
	}
	return ai.TruncateItem(itemID, audioEndMs)
}
