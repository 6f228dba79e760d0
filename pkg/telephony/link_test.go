package telephony_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/telephony"
)

// linkPair accepts one WebSocket connection server-side, wraps it in a Link,
// and returns the provider-side conn for driving the test.
func linkPair(t *testing.T) (*telephony.Link, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		accepted <- conn
		// Keep the handler alive until the test finishes.
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	providerConn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { providerConn.Close(websocket.StatusNormalClosure, "test done") })

	select {
	case conn := <-accepted:
		link := telephony.NewLink(conn)
		t.Cleanup(func() { link.Close("test done") })
		return link, providerConn
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for accept")
		return nil, nil
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return raw
}

// streamHandler records handler callbacks.
type streamHandler struct {
	mu       sync.Mutex
	starts   []telephony.StartFrame
	media    [][]byte
	marks    []string
	stopped  bool
	gotStart chan struct{}
	gotMedia chan struct{}
	gotMark  chan struct{}
}

func newStreamHandler() *streamHandler {
	return &streamHandler{
		gotStart: make(chan struct{}, 4),
		gotMedia: make(chan struct{}, 16),
		gotMark:  make(chan struct{}, 4),
	}
}

func (h *streamHandler) OnStart(start telephony.StartFrame) {
	h.mu.Lock()
	h.starts = append(h.starts, start)
	h.mu.Unlock()
	h.gotStart <- struct{}{}
}

func (h *streamHandler) OnMedia(payload []byte, timestamp string) {
	h.mu.Lock()
	h.media = append(h.media, payload)
	h.mu.Unlock()
	h.gotMedia <- struct{}{}
}

func (h *streamHandler) OnMark(name string) {
	h.mu.Lock()
	h.marks = append(h.marks, name)
	h.mu.Unlock()
	h.gotMark <- struct{}{}
}

func (h *streamHandler) OnStop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

func startEvent(streamSid, callSid string) map[string]any {
	return map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid": streamSid,
			"callSid":   callSid,
			"customParameters": map[string]string{
				"sessionId": "abc123",
			},
		},
	}
}

func TestLink_StartAndMedia(t *testing.T) {
	t.Parallel()

	link, provider := linkPair(t)
	h := newStreamHandler()

	done := make(chan error, 1)
	go func() { done <- link.Run(context.Background(), h) }()

	sendFrame(t, provider, startEvent("MZ1", "CA1"))

	select {
	case <-h.gotStart:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for start")
	}
	if got := link.StreamSid(); got != "MZ1" {
		t.Errorf("StreamSid = %q; want MZ1", got)
	}
	h.mu.Lock()
	if h.starts[0].CallSid != "CA1" {
		t.Errorf("CallSid = %q; want CA1", h.starts[0].CallSid)
	}
	if h.starts[0].CustomParameters["sessionId"] != "abc123" {
		t.Errorf("custom parameters = %v", h.starts[0].CustomParameters)
	}
	h.mu.Unlock()

	payload := []byte{0xFF, 0x7F, 0x00}
	sendFrame(t, provider, map[string]any{
		"event": "media",
		"media": map[string]any{
			"payload":   base64.StdEncoding.EncodeToString(payload),
			"timestamp": "120",
		},
	})

	select {
	case <-h.gotMedia:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media")
	}
	h.mu.Lock()
	if string(h.media[0]) != string(payload) {
		t.Errorf("media = %v; want %v", h.media[0], payload)
	}
	h.mu.Unlock()

	sendFrame(t, provider, map[string]any{"event": "stop"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after stop frame")
	}
	h.mu.Lock()
	if !h.stopped {
		t.Error("OnStop not called")
	}
	h.mu.Unlock()
}

func TestLink_MarkEcho(t *testing.T) {
	t.Parallel()

	link, provider := linkPair(t)
	h := newStreamHandler()
	go link.Run(context.Background(), h)

	sendFrame(t, provider, startEvent("MZ2", "CA2"))
	sendFrame(t, provider, map[string]any{
		"event": "mark",
		"mark":  map[string]any{"name": "responsePart"},
	})

	select {
	case <-h.gotMark:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for mark")
	}
	h.mu.Lock()
	if h.marks[0] != "responsePart" {
		t.Errorf("mark = %q; want responsePart", h.marks[0])
	}
	h.mu.Unlock()
}

func TestLink_OutboundFrames(t *testing.T) {
	t.Parallel()

	link, provider := linkPair(t)
	h := newStreamHandler()
	go link.Run(context.Background(), h)

	sendFrame(t, provider, startEvent("MZ3", "CA3"))
	select {
	case <-h.gotStart:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for start")
	}

	ctx := context.Background()
	payload := []byte{0x01, 0x02}
	if err := link.SendMedia(ctx, payload); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if err := link.SendMark(ctx, "responsePart"); err != nil {
		t.Fatalf("SendMark: %v", err)
	}
	if err := link.SendClear(ctx); err != nil {
		t.Fatalf("SendClear: %v", err)
	}

	media := readFrame(t, provider)
	if media["event"] != "media" || media["streamSid"] != "MZ3" {
		t.Fatalf("media frame = %v", media)
	}
	inner, _ := media["media"].(map[string]any)
	decoded, _ := base64.StdEncoding.DecodeString(inner["payload"].(string))
	if string(decoded) != string(payload) {
		t.Errorf("payload = %v; want %v", decoded, payload)
	}

	mark := readFrame(t, provider)
	if mark["event"] != "mark" {
		t.Fatalf("mark frame = %v", mark)
	}
	markInner, _ := mark["mark"].(map[string]any)
	if markInner["name"] != "responsePart" {
		t.Errorf("mark name = %v", markInner["name"])
	}

	clear := readFrame(t, provider)
	if clear["event"] != "clear" || clear["streamSid"] != "MZ3" {
		t.Fatalf("clear frame = %v", clear)
	}
}

func TestLink_SendBeforeStart(t *testing.T) {
	t.Parallel()

	link, _ := linkPair(t)
	if err := link.SendMedia(context.Background(), []byte{0x01}); err == nil {
		t.Error("SendMedia before start should fail")
	}
	if err := link.SendClear(context.Background()); err == nil {
		t.Error("SendClear before start should fail")
	}
}

func TestLink_MalformedFramesSkipped(t *testing.T) {
	t.Parallel()

	link, provider := linkPair(t)
	h := newStreamHandler()
	go link.Run(context.Background(), h)

	ctx := context.Background()
	_ = provider.Write(ctx, websocket.MessageText, []byte("{oops"))
	sendFrame(t, provider, map[string]any{"event": "media"}) // media without payload
	sendFrame(t, provider, map[string]any{
		"event": "media",
		"media": map[string]any{"payload": "!!! not base64 !!!"},
	})
	sendFrame(t, provider, startEvent("MZ4", "CA4"))

	select {
	case <-h.gotStart:
	case <-time.After(3 * time.Second):
		t.Fatal("link stopped on malformed frames")
	}
	h.mu.Lock()
	if len(h.media) != 0 {
		t.Errorf("malformed media delivered: %v", h.media)
	}
	h.mu.Unlock()
}

func TestLink_CloseIdempotent(t *testing.T) {
	t.Parallel()

	link, _ := linkPair(t)
	if err := link.Close("first"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Close("second"); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
