package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// humanFrame is one message on the operator audio channel, in either
// direction. Audio is base64-encoded 8 kHz mu-law, matching the telephony
// leg.
type humanFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// handleHumanAudio attaches a human operator's audio channel to a live
// call. Caller audio is mirrored out to the operator; operator audio frames
// are forwarded to the caller while takeover is active. Disconnecting hands
// the call back to the AI.
func (s *Server) handleHumanAudio(w http.ResponseWriter, r *http.Request) {
	callSid := r.PathValue("callSid")
	entry, ok := s.registry.Get(callSid)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	sess := entry.Session

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("human audio accept failed", "call_sid", callSid, "error", err)
		return
	}

	ctx := r.Context()
	sess.AttachHumanStream(func(payload []byte) error {
		return wsjson.Write(ctx, conn, humanFrame{
			Type:  "audio",
			Audio: base64.StdEncoding.EncodeToString(payload),
		})
	})
	defer func() {
		detachCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sess.DetachHumanStream(detachCtx)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	s.log.Info("human operator connected", "call_sid", callSid)

	for {
		var frame humanFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			s.log.Info("human operator disconnected", "call_sid", callSid)
			return
		}
		if frame.Type != "audio" {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(frame.Audio)
		if err != nil {
			s.log.Debug("undecodable operator audio", "call_sid", callSid, "error", err)
			continue
		}
		if err := sess.HumanAudio(ctx, payload); err != nil {
			s.log.Debug("operator audio dropped", "call_sid", callSid, "error", err)
		}
	}
}
