package server

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// dashboardPingInterval keeps idle dashboard connections alive through
// intermediaries that reap quiet streams.
const dashboardPingInterval = 20 * time.Second

// dashboardFilter is the first frame a dashboard client sends. An empty
// callId subscribes to every call.
type dashboardFilter struct {
	CallID string `json:"callId"`
}

// handleDashboard streams observer events to a monitoring client. The
// client sends one initial JSON frame, optionally naming a callId to filter
// on, and then receives events until it disconnects or falls behind.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if token := s.cfg.Server.DashboardToken; token != "" {
		if r.URL.Query().Get("token") != token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("dashboard accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	var filter dashboardFilter
	if err := wsjson.Read(ctx, conn, &filter); err != nil {
		s.log.Debug("dashboard closed before filter frame", "error", err)
		return
	}

	sub := s.hub.Subscribe(filter.CallID)
	defer s.hub.Unsubscribe(sub)

	s.log.Info("dashboard connected", "filter", filter.CallID)

	ping := time.NewTicker(dashboardPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case event, ok := <-sub.Events():
			if !ok {
				// The hub dropped us for falling behind.
				conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
