package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// VADConfig tunes the server-side voice activity detector that segments
// caller speech into turns.
type VADConfig struct {
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

// Tool describes a function the model may call during the conversation.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the full session.update payload sent once after dialing
// and again after a renewal redial.
type SessionConfig struct {
	Voice        string
	Instructions string
	Temperature  float64

	// Audio formats for both directions, e.g. "g711_ulaw" for a phone
	// passthrough leg or "pcm16" for a transcoded leg.
	InputAudioFormat  string
	OutputAudioFormat string

	// TranscriptionModel enables input transcription when non-empty,
	// e.g. "whisper-1".
	TranscriptionModel string

	VAD   VADConfig
	Tools []Tool
}

// Session is one live realtime conversation. All Send* methods are safe for
// concurrent use; writes are serialized by an internal mutex so client events
// reach the model in call order.
type Session struct {
	conn    *websocket.Conn
	handler Handler

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// ── Client event wire types ───────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities         []string             `json:"modalities,omitempty"`
	Voice              string               `json:"voice,omitempty"`
	Instructions       string               `json:"instructions,omitempty"`
	Temperature        float64              `json:"temperature,omitempty"`
	InputAudioFormat   string               `json:"input_audio_format"`
	OutputAudioFormat  string               `json:"output_audio_format"`
	InputTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection      *turnDetectionParams `json:"turn_detection,omitempty"`
	Tools              []wireTool           `json:"tools,omitempty"`
	ToolChoice         string               `json:"tool_choice,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded payload in the session's input format
}

type responseCreateMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type truncateItemMessage struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ── Operations ────────────────────────────────────────────────────────────────

// Configure sends a session.update event with the full session configuration.
func (s *Session) Configure(cfg SessionConfig) error {
	params := sessionParams{
		Modalities:        []string{"text", "audio"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		Temperature:       cfg.Temperature,
		InputAudioFormat:  cfg.InputAudioFormat,
		OutputAudioFormat: cfg.OutputAudioFormat,
	}
	if params.InputAudioFormat == "" {
		params.InputAudioFormat = "pcm16"
	}
	if params.OutputAudioFormat == "" {
		params.OutputAudioFormat = "pcm16"
	}
	if cfg.TranscriptionModel != "" {
		params.InputTranscription = &transcriptionParams{Model: cfg.TranscriptionModel}
	}
	if cfg.VAD != (VADConfig{}) {
		params.TurnDetection = &turnDetectionParams{
			Type:              "server_vad",
			Threshold:         cfg.VAD.Threshold,
			PrefixPaddingMs:   cfg.VAD.PrefixPaddingMs,
			SilenceDurationMs: cfg.VAD.SilenceDurationMs,
		}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = make([]wireTool, len(cfg.Tools))
		for i, t := range cfg.Tools {
			params.Tools[i] = wireTool{
				Type:        "function",
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		params.ToolChoice = "auto"
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// AppendAudio delivers one audio chunk to the model's input buffer. The
// server VAD commits the buffer on its own when it detects end of speech.
func (s *Session) AppendAudio(chunk []byte) error {
	if s.isClosed() {
		return fmt.Errorf("realtime: session closed")
	}
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// ClearInput discards any uncommitted caller audio on the server.
func (s *Session) ClearInput() error {
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// CommitInput forces a commit of the input buffer, closing the current
// caller turn without waiting for the VAD.
func (s *Session) CommitInput() error {
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// CancelResponse aborts the in-flight model response, if any.
func (s *Session) CancelResponse() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// CreateResponse asks the model to produce a response. A non-empty
// instructions string overrides the session instructions for this one
// response only.
func (s *Session) CreateResponse(instructions string) error {
	msg := responseCreateMessage{Type: "response.create"}
	if instructions != "" {
		msg.Response = &responseParams{Instructions: instructions}
	}
	return s.writeJSON(msg)
}

// CreateUserMessage inserts a user text item into the conversation without
// triggering a response.
func (s *Session) CreateUserMessage(text string) error {
	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	})
}

// TruncateItem cuts a partially played assistant item at audioEndMs so the
// model's view of the conversation matches what the caller actually heard.
func (s *Session) TruncateItem(itemID string, audioEndMs int) error {
	return s.writeJSON(truncateItemMessage{
		Type:       "conversation.item.truncate",
		ItemID:     itemID,
		AudioEndMs: audioEndMs,
	})
}

// Err returns the first error that terminated the receive loop, or nil after
// a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Done is closed when the receive loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down. Safe to call multiple times and concurrently
// with the receive loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}
