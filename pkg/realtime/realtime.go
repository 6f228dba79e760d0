// Package realtime is a WebSocket client for a hosted speech-to-speech
// conversational model (the OpenAI Realtime API wire protocol).
//
// It exchanges JSON events over a single bidirectional connection: caller
// audio is appended as base64 chunks, model audio and transcripts arrive as
// server events and are surfaced through the Handler interface. Mid-session
// control (barge-in cancellation, input buffer clears, forced responses) is
// supported via the corresponding client events.
package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-realtime"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the realtime model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// Client dials realtime sessions. It holds only credentials and endpoint
// configuration; all per-call state lives on the Session.
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial opens a WebSocket connection to the realtime endpoint and starts the
// receive loop. Server events are delivered to handler sequentially from a
// single goroutine. The session is not configured yet; call
// [Session.Configure] before sending audio.
func (c *Client) Dial(ctx context.Context, handler Handler) (*Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		conn:    conn,
		handler: handler,
		ctx:     sessCtx,
		cancel:  sessCancel,
		done:    make(chan struct{}),
	}

	go sess.receiveLoop()

	return sess, nil
}
