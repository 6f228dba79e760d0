package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/call"
)

// defaultTurnGap is the pause inserted before AI speech that directly
// follows caller speech, so observers hear a natural turn-taking rhythm.
const defaultTurnGap = time.Second

// Sequencer serializes observer playback through a single-in-flight lock.
// Only a Caller→AI speaker transition gets a gap; the AI answering is
// preceded by a beat of silence, while the caller interrupting the AI plays
// immediately.
type Sequencer struct {
	gap time.Duration

	mu   sync.Mutex
	last call.Speaker
}

func NewSequencer() *Sequencer {
	return &Sequencer{gap: defaultTurnGap}
}

// Play runs emit under the sequencing lock, delaying first when the speaker
// transition calls for a gap. Playback for one observer stream must go
// through a single Sequencer.
func (s *Sequencer) Play(ctx context.Context, speaker call.Speaker, emit func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == call.SpeakerCaller && speaker == call.SpeakerAI {
		timer := time.NewTimer(s.gap)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}
	emit()
	s.last = speaker
}
