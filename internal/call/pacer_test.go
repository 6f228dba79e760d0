package call

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type recordSink struct {
	mu     sync.Mutex
	pkts   []Packet
	played chan struct{}
}

func newRecordSink() *recordSink {
	return &recordSink{played: make(chan struct{}, 64)}
}

func (s *recordSink) Play(ctx context.Context, pkt Packet) error {
	s.mu.Lock()
	s.pkts = append(s.pkts, pkt)
	s.mu.Unlock()
	s.played <- struct{}{}
	return nil
}

func (s *recordSink) packets() []Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Packet, len(s.pkts))
	copy(out, s.pkts)
	return out
}

func waitPlayed(t *testing.T, sink *recordSink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-sink.played:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for packet %d of %d", i+1, n)
		}
	}
}

func mulawPacket(firstByte byte, size int) Packet {
	payload := make([]byte, size)
	payload[0] = firstByte
	return Packet{Speaker: SpeakerAI, Payload: payload, Codec: CodecMuLaw, SampleRate: 8000}
}

func TestPacketDuration(t *testing.T) {
	t.Parallel()

	mulaw := Packet{Payload: make([]byte, 160), Codec: CodecMuLaw, SampleRate: 8000}
	if got, want := mulaw.Duration(), 20*time.Millisecond; got != want {
		t.Errorf("mu-law duration = %v, want %v", got, want)
	}

	pcm := Packet{Payload: make([]byte, 960), Codec: CodecPCM16, SampleRate: 24000}
	if got, want := pcm.Duration(), 20*time.Millisecond; got != want {
		t.Errorf("pcm16 duration = %v, want %v", got, want)
	}

	if got := (Packet{Codec: CodecMuLaw}).Duration(); got != 0 {
		t.Errorf("empty packet duration = %v, want 0", got)
	}
}

func TestPacerDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := newRecordSink()
	p := NewPacer(testLogger(), testMetrics(t), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := byte(1); i <= 3; i++ {
		p.Enqueue(mulawPacket(i, 8))
	}
	waitPlayed(t, sink, 3)

	pkts := sink.packets()
	for i, pkt := range pkts {
		if pkt.Payload[0] != byte(i+1) {
			t.Errorf("packet %d has first byte %d, want %d", i, pkt.Payload[0], i+1)
		}
	}
}

func TestPacerSpacesPacketsByDuration(t *testing.T) {
	t.Parallel()

	sink := newRecordSink()
	p := NewPacer(testLogger(), testMetrics(t), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// 800 mu-law bytes at 8 kHz is 100ms of audio.
	start := time.Now()
	p.Enqueue(mulawPacket(1, 800))
	p.Enqueue(mulawPacket(2, 800))
	waitPlayed(t, sink, 2)

	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("second packet released after %v, want at least ~100ms of pacing", elapsed)
	}
}

func TestPacerDropsGatedPackets(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	gated := true
	setGate := func(v bool) { mu.Lock(); gated = v; mu.Unlock() }
	gate := func() bool { mu.Lock(); defer mu.Unlock(); return gated }

	sink := newRecordSink()
	p := NewPacer(testLogger(), testMetrics(t), sink, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(mulawPacket(1, 8))
	time.Sleep(50 * time.Millisecond)
	if n := len(sink.packets()); n != 0 {
		t.Fatalf("gated pacer played %d packets, want 0", n)
	}

	setGate(false)
	p.Enqueue(mulawPacket(2, 8))
	waitPlayed(t, sink, 1)
	if pkts := sink.packets(); pkts[0].Payload[0] != 2 {
		t.Errorf("played packet %d, want the post-gate packet 2", pkts[0].Payload[0])
	}
}

func TestPacerDrain(t *testing.T) {
	t.Parallel()

	p := NewPacer(testLogger(), testMetrics(t), newRecordSink(), nil)
	for i := 0; i < 5; i++ {
		p.Enqueue(mulawPacket(byte(i), 8))
	}

	if n := p.Drain(context.Background()); n != 5 {
		t.Errorf("Drain() = %d, want 5", n)
	}
	if p.Len() != 0 {
		t.Errorf("queue length after drain = %d, want 0", p.Len())
	}
	if n := p.Drain(context.Background()); n != 0 {
		t.Errorf("second Drain() = %d, want 0", n)
	}
}

// Discarded audio is counted per cause so a barge-in drain and takeover
// gating stay distinguishable on the dropped-packet counter.
func TestPacerCountsDroppedPacketsByCause(t *testing.T) {
	t.Parallel()

	m, reader := testMetricsWithReader(t)

	var mu sync.Mutex
	gated := true
	gate := func() bool { mu.Lock(); defer mu.Unlock(); return gated }

	sink := newRecordSink()
	p := NewPacer(testLogger(), m, sink, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// One packet eaten by the gate, three by a drain.
	p.Enqueue(mulawPacket(1, 8))
	waitDropped(t, reader, "human_control", 1)

	mu.Lock()
	gated = false
	mu.Unlock()
	for i := byte(2); i <= 4; i++ {
		p.Enqueue(mulawPacket(i, 800))
	}
	waitPlayed(t, sink, 1)
	if n := p.Drain(context.Background()); n == 0 {
		t.Fatal("nothing left to drain")
	}
	waitDropped(t, reader, "interrupted", 1)
}

// waitDropped polls the manual reader until the dropped-audio counter for the
// cause reaches at least want.
func waitDropped(t *testing.T, reader *sdkmetric.ManualReader, cause string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := droppedCount(t, reader, cause); got >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("dropped count for %q never reached %d", cause, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func droppedCount(t *testing.T, reader *sdkmetric.ManualReader, cause string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voxwire.audio.dropped" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("voxwire.audio.dropped is %T, want Sum[int64]", met.Data)
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == "cause" && kv.Value.AsString() == cause {
						return dp.Value
					}
				}
			}
		}
	}
	return 0
}
