package call

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func newRouter(t *testing.T) (*TakeoverRouter, *fakeTelephony, *fakeAI, *Pacer) {
	t.Helper()
	tel := &fakeTelephony{}
	ai := &fakeAI{}
	m := testMetrics(t)
	pacer := NewPacer(testLogger(), m, newRecordSink(), nil)
	r := NewTakeoverRouter(testLogger(), m, tel, ai, pacer)
	r.settle = time.Millisecond
	return r, tel, ai, pacer
}

func TestEnableCutsAIPlayback(t *testing.T) {
	t.Parallel()

	r, tel, ai, pacer := newRouter(t)
	pacer.Enqueue(mulawPacket(1, 8))

	r.Enable(context.Background())

	if !r.Active() {
		t.Fatal("router not active after Enable")
	}
	if got := tel.clearCount(); got != 1 {
		t.Errorf("clear frames = %d, want 1", got)
	}
	if got := ai.cancelCount(); got != 1 {
		t.Errorf("response cancels = %d, want 1", got)
	}
	if got := ai.clearCount(); got != 1 {
		t.Errorf("input clears = %d, want 1", got)
	}
	if got := pacer.Len(); got != 0 {
		t.Errorf("queued packets = %d, want 0", got)
	}

	// A second Enable is a no-op.
	r.Enable(context.Background())
	if got := tel.clearCount(); got != 1 {
		t.Errorf("clear frames after duplicate enable = %d, want 1", got)
	}
}

func TestDisableSettlesThenCommits(t *testing.T) {
	t.Parallel()

	r, _, ai, _ := newRouter(t)
	r.Enable(context.Background())
	r.Disable(context.Background())

	if r.Active() {
		t.Fatal("router still active after Disable")
	}
	if got := ai.cancelCount(); got != 2 {
		t.Errorf("response cancels = %d, want 2 (enable and disable)", got)
	}
	if got := ai.clearCount(); got != 2 {
		t.Errorf("input clears = %d, want 2", got)
	}
	if got := ai.commitCount(); got != 1 {
		t.Errorf("input commits = %d, want 1", got)
	}

	// Disable without takeover is a no-op.
	r.Disable(context.Background())
	if got := ai.commitCount(); got != 1 {
		t.Errorf("input commits after duplicate disable = %d, want 1", got)
	}
}

func TestMirrorCallerOnlyWhileActive(t *testing.T) {
	t.Parallel()

	r, _, _, _ := newRouter(t)

	var mu sync.Mutex
	var mirrored [][]byte
	r.AttachHuman(func(payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		mirrored = append(mirrored, payload)
		return nil
	})

	r.MirrorCaller([]byte{0x01})
	mu.Lock()
	n := len(mirrored)
	mu.Unlock()
	if n != 0 {
		t.Fatal("caller audio mirrored while AI holds the call")
	}

	r.Enable(context.Background())
	r.MirrorCaller([]byte{0x02})
	mu.Lock()
	defer mu.Unlock()
	if len(mirrored) != 1 || !bytes.Equal(mirrored[0], []byte{0x02}) {
		t.Fatalf("mirrored = %v, want the one packet sent during takeover", mirrored)
	}
}

func TestHumanAudioFeedsBothLegs(t *testing.T) {
	t.Parallel()

	r, tel, ai, _ := newRouter(t)
	payload := []byte{0xFF, 0x7F, 0x00}

	// Ignored while the AI holds the call.
	if err := r.HumanAudio(context.Background(), payload); err != nil {
		t.Fatalf("HumanAudio while inactive: %v", err)
	}
	if tel.mediaCount() != 0 {
		t.Fatal("human audio reached the caller while takeover was inactive")
	}

	r.Enable(context.Background())
	if err := r.HumanAudio(context.Background(), payload); err != nil {
		t.Fatalf("HumanAudio: %v", err)
	}
	if got := tel.mediaCount(); got != 1 {
		t.Errorf("media frames to caller = %d, want 1", got)
	}
	ai.mu.Lock()
	appended := len(ai.appended)
	ai.mu.Unlock()
	if appended != 1 {
		t.Errorf("audio chunks appended to AI = %d, want 1", appended)
	}
}

func TestDetachWhileActiveReturnsCallToAI(t *testing.T) {
	t.Parallel()

	r, _, ai, _ := newRouter(t)
	r.AttachHuman(func([]byte) error { return nil })
	r.Enable(context.Background())

	r.DetachHuman(context.Background())

	if r.Active() {
		t.Fatal("router still active after operator disconnect")
	}
	if got := ai.commitCount(); got != 1 {
		t.Errorf("input commits = %d, want 1 (the fail-safe disable)", got)
	}
}
