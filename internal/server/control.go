package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/voxwire/voxwire/internal/observer"
	"github.com/voxwire/voxwire/internal/registry"
)

type takeoverRequest struct {
	CallSid  string `json:"callSid"`
	Action   string `json:"action"`
	TenantID string `json:"tenantId"`
}

type endCallRequest struct {
	CallSid  string `json:"callSid"`
	TenantID string `json:"tenantId"`
	Reason   string `json:"reason"`
}

type controlResponse struct {
	Status  string `json:"status"`
	CallSid string `json:"callSid"`
}

// handleTakeover flips human control of a live call on or off.
func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	var req takeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Action != "enable" && req.Action != "disable" {
		http.Error(w, "action must be enable or disable", http.StatusBadRequest)
		return
	}

	sess, err := s.registry.Authorize(req.CallSid, req.TenantID)
	if err != nil {
		s.controlError(w, req.CallSid, err)
		return
	}

	if req.Action == "enable" {
		sess.EnableTakeover(r.Context())
	} else {
		sess.DisableTakeover(r.Context())
	}
	s.hub.Broadcast(observer.Event{
		CallSid:   req.CallSid,
		Type:      "takeover",
		Timestamp: time.Now(),
		Detail:    req.Action,
	})
	s.log.Info("takeover toggled", "call_sid", req.CallSid, "action", req.Action)

	s.writeJSON(w, http.StatusOK, controlResponse{Status: "ok", CallSid: req.CallSid})
}

// handleEndCall asks the AI to say goodbye and hang the call up.
func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	var req endCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.registry.Authorize(req.CallSid, req.TenantID)
	if err != nil {
		s.controlError(w, req.CallSid, err)
		return
	}

	if !sess.RequestHangup(req.Reason) {
		s.log.Info("hangup already in progress", "call_sid", req.CallSid)
	}
	s.writeJSON(w, http.StatusOK, controlResponse{Status: "ok", CallSid: req.CallSid})
}

// controlError maps registry lookup failures onto HTTP status codes.
func (s *Server) controlError(w http.ResponseWriter, callSid string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "unknown call", http.StatusNotFound)
	case errors.Is(err, registry.ErrTenantMismatch):
		http.Error(w, "call belongs to another tenant", http.StatusForbidden)
	default:
		s.log.Error("call lookup failed", "call_sid", callSid, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
