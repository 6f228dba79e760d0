package call

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxwire/voxwire/internal/observe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, _ := testMetricsWithReader(t)
	return m
}

func testMetricsWithReader(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// fakeTelephony records outbound control traffic.
type fakeTelephony struct {
	mu     sync.Mutex
	media  [][]byte
	marks  []string
	clears int

	failClear bool
}

func (f *fakeTelephony) SendMedia(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, payload)
	return nil
}

func (f *fakeTelephony) SendMark(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, name)
	return nil
}

func (f *fakeTelephony) SendClear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	if f.failClear {
		return io.ErrClosedPipe
	}
	return nil
}

func (f *fakeTelephony) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeTelephony) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marks)
}

func (f *fakeTelephony) mediaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.media)
}

// fakeAI records AI-leg control traffic.
type fakeAI struct {
	mu        sync.Mutex
	appended  [][]byte
	clears    int
	commits   int
	cancels   int
	responses []string
	truncates []truncateCall

	failCancel bool
}

type truncateCall struct {
	itemID     string
	audioEndMs int
}

func (f *fakeAI) AppendAudio(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, audio)
	return nil
}

func (f *fakeAI) ClearInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeAI) CommitInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeAI) CancelResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.failCancel {
		return io.ErrClosedPipe
	}
	return nil
}

func (f *fakeAI) CreateResponse(instructions string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, instructions)
	return nil
}

func (f *fakeAI) TruncateItem(itemID string, audioEndMs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncates = append(f.truncates, truncateCall{itemID: itemID, audioEndMs: audioEndMs})
	return nil
}

func (f *fakeAI) truncateList() []truncateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]truncateCall(nil), f.truncates...)
}

func (f *fakeAI) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeAI) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

func (f *fakeAI) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

func (f *fakeAI) responseList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.responses))
	copy(out, f.responses)
	return out
}

// fakeTerminator reports the trigger of the first termination.
type fakeTerminator struct {
	ch chan string
}

func newFakeTerminator() *fakeTerminator {
	return &fakeTerminator{ch: make(chan string, 1)}
}

func (f *fakeTerminator) Terminate(ctx context.Context, trigger string) {
	select {
	case f.ch <- trigger:
	default:
	}
}
