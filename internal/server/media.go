package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/internal/call"
	"github.com/voxwire/voxwire/pkg/realtime"
	"github.com/voxwire/voxwire/pkg/telephony"
)

// cleanupTimeout bounds the archive and webhook work done after a call ends.
const cleanupTimeout = 10 * time.Second

// handleMediaStream accepts the telephony provider's media-stream WebSocket
// and runs a call session on it until either leg drops.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("media stream accept failed", "error", err)
		return
	}

	link := telephony.NewLink(conn)
	opts := s.sessionOptions()

	// The session registers itself once the start frame names the call.
	var sess *call.Session
	opts.OnStarted = func(info call.CallInfo) {
		tenant := info.TenantID
		if pre, ok := s.registry.TakePending(info.CallSid); ok && tenant == "" {
			tenant = pre
		}
		s.registry.Put(info.CallSid, sess, tenant)
		s.hub.CallStarted(info)
	}
	opts.OnEnded = func(info call.CallInfo, duration time.Duration) {
		if info.CallSid == "" {
			return
		}
		s.registry.Remove(info.CallSid)
		if s.pipeline != nil {
			s.pipeline.Forget(info.CallSid)
		}
		s.hub.CallEnded(info, duration)

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		startedAt := time.Now().Add(-duration)
		if s.store != nil {
			if err := s.store.ArchiveCall(ctx, info, startedAt, duration); err != nil {
				s.log.Warn("call archive failed", "call_sid", info.CallSid, "error", err)
			}
		}
		s.notifier.CallEnded(ctx, info, startedAt, duration)
	}
	sess = call.New(link, opts)

	if err := sess.Run(r.Context()); err != nil {
		s.log.Warn("call session ended with error", "error", err)
		link.Close("session error")
		return
	}
	link.Close("call complete")
}

// sessionOptions translates configuration into per-call session options.
// The lifecycle hooks are filled in by the media-stream handler.
func (s *Server) sessionOptions() call.Options {
	ai := s.cfg.AI

	opts := call.Options{
		Logger:  s.log,
		Metrics: s.metrics,
		AI:      s.ai,
		AIConfig: realtime.SessionConfig{
			Voice:              ai.Voice,
			Instructions:       ai.Instructions,
			Temperature:        ai.Temperature,
			TranscriptionModel: ai.TranscriptionModel,
			VAD: realtime.VADConfig{
				Threshold:         ai.VAD.Threshold,
				PrefixPaddingMs:   ai.VAD.PrefixPaddingMs,
				SilenceDurationMs: ai.VAD.SilenceDurationMs,
			},
		},
		AudioMode: ai.AudioMode,

		Rest:              s.rest,
		Record:            s.cfg.Telephony.Record,
		RecordingCallback: s.callbackURL("/call-status"),

		Company:  ai.Company,
		Greeting: ai.Greeting,

		RenewInterval: ai.RenewInterval(),
		Grace:         ai.EndCallGrace(),
		Watchdog:      ai.EndCallWatchdog(),
	}
	if s.pipeline != nil {
		opts.Transcripts = s.pipeline
	}
	return opts
}

// callbackURL builds an absolute URL for provider callbacks from the
// configured public host. Empty when no public host is configured.
func (s *Server) callbackURL(path string) string {
	if s.cfg.Server.PublicHost == "" {
		return ""
	}
	return "https://" + s.cfg.Server.PublicHost + path
}
