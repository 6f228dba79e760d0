package server

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/voxwire/voxwire/internal/observer"
)

// TwiML response types for the incoming-call webhook.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     string        `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// handleIncomingCall answers the provider's inbound-call webhook with TwiML
// that greets the caller and connects the audio to the media-stream
// endpoint. A "tenant" query parameter is passed through to the stream as a
// custom parameter so the session knows who the call belongs to.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	callSid := r.FormValue("CallSid")
	tenant := r.URL.Query().Get("tenant")

	host := s.cfg.Server.PublicHost
	if host == "" {
		host = r.Host
	}

	stream := twimlStream{URL: "wss://" + host + "/media-stream"}
	if tenant != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "tenantId", Value: tenant})
		if callSid != "" {
			s.registry.PutPending(callSid, tenant)
		}
	}

	say := "Please hold while we connect you."
	if company := s.cfg.AI.Company; company != "" {
		say = fmt.Sprintf("Thank you for calling %s. One moment please.", company)
	}

	resp := twimlResponse{
		Say:     say,
		Connect: &twimlConnect{Stream: stream},
	}

	s.log.Info("incoming call", "call_sid", callSid, "tenant", tenant, "from", r.FormValue("From"))

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}
	if err := xml.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("twiml encode failed", "error", err)
	}
}

// handleCallStatus receives the provider's call status callbacks and
// forwards them to dashboard observers.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	callSid := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")

	s.log.Info("call status callback", "call_sid", callSid, "status", status)
	s.hub.Broadcast(observer.Event{
		CallSid:   callSid,
		Type:      "call.status",
		Timestamp: time.Now(),
		Detail:    status,
	})

	w.WriteHeader(http.StatusNoContent)
}
