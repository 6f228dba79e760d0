package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Handler receives inbound stream events. Methods are invoked sequentially
// from the link's receive goroutine in wire order.
type Handler interface {
	// OnStart fires once when the provider opens the stream.
	OnStart(start StartFrame)
	// OnMedia delivers one decoded chunk of caller audio.
	OnMedia(payload []byte, timestamp string)
	// OnMark fires when the provider confirms playback up to a named mark.
	OnMark(name string)
	// OnStop fires when the provider ends the stream.
	OnStop()
}

// Link is one accepted media-stream connection. Outbound frames may be sent
// from any goroutine; an internal mutex keeps them ordered on the wire. The
// stream SID is captured from the start frame, so outbound sends before
// OnStart are rejected.
type Link struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	streamSid string
	closed    bool

	closeOnce sync.Once
}

// NewLink wraps an accepted WebSocket connection.
func NewLink(conn *websocket.Conn) *Link {
	return &Link{conn: conn}
}

// StreamSid returns the stream SID from the start frame, or "" before it.
func (l *Link) StreamSid() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streamSid
}

// Run reads frames until the connection drops, ctx is cancelled, or the
// provider sends a stop frame. Frames that fail to parse are skipped.
func (l *Link) Run(ctx context.Context, handler Handler) error {
	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if l.isClosed() {
				return nil
			}
			return fmt.Errorf("telephony: read: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case "start":
			if frame.Start == nil {
				continue
			}
			l.mu.Lock()
			l.streamSid = frame.Start.StreamSid
			l.mu.Unlock()
			handler.OnStart(*frame.Start)

		case "media":
			if frame.Media == nil || frame.Media.Payload == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil || len(payload) == 0 {
				continue
			}
			handler.OnMedia(payload, frame.Media.Timestamp)

		case "mark":
			if frame.Mark == nil {
				continue
			}
			handler.OnMark(frame.Mark.Name)

		case "stop":
			handler.OnStop()
			return nil
		}
	}
}

// SendMedia queues one mu-law audio payload for playback to the caller.
func (l *Link) SendMedia(ctx context.Context, payload []byte) error {
	sid, err := l.requireStream()
	if err != nil {
		return err
	}
	return l.writeJSON(ctx, outboundMediaFrame{
		Event:     "media",
		StreamSid: sid,
		Media:     outboundMedia{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
}

// SendMark queues a named mark after the audio already queued; the provider
// echoes it back once everything before it has been played.
func (l *Link) SendMark(ctx context.Context, name string) error {
	sid, err := l.requireStream()
	if err != nil {
		return err
	}
	return l.writeJSON(ctx, outboundMarkFrame{
		Event:     "mark",
		StreamSid: sid,
		Mark:      outboundMark{Name: name},
	})
}

// SendClear tells the provider to drop all audio queued for playback.
func (l *Link) SendClear(ctx context.Context) error {
	sid, err := l.requireStream()
	if err != nil {
		return err
	}
	return l.writeJSON(ctx, outboundClearFrame{Event: "clear", StreamSid: sid})
}

// Close tears the connection down. Safe to call multiple times and
// concurrently with Run.
func (l *Link) Close(reason string) error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return nil
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) requireStream() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", fmt.Errorf("telephony: link closed")
	}
	if l.streamSid == "" {
		return "", fmt.Errorf("telephony: no stream started")
	}
	return l.streamSid, nil
}

func (l *Link) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telephony: marshal: %w", err)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.Write(ctx, websocket.MessageText, data)
}
