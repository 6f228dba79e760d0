package audio

import (
	"log/slog"
	"sync"
)

// Transcoder converts call audio between the telephony leg (mu-law at
// TelephonyRate) and the AI leg (PCM16 at AIRate). It logs a warning on the
// first malformed PCM payload and then drops such payloads silently.
// Create one per call; not designed for shared use across goroutines.
type Transcoder struct {
	TelephonyRate int // mu-law sample rate, typically 8000
	AIRate        int // PCM16 sample rate, typically 24000

	warnedCorrupt sync.Once
}

// NewTranscoder returns a Transcoder for the usual 8 kHz phone / 24 kHz AI
// pairing.
func NewTranscoder() *Transcoder {
	return &Transcoder{TelephonyRate: 8000, AIRate: 24000}
}

// TelephonyToAI converts a mu-law payload from the phone leg into PCM16 at
// the AI rate: decode, then linear-interpolation upsample.
func (t *Transcoder) TelephonyToAI(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return nil
	}
	pcm := DecodeMuLaw(mulaw)
	return UpsampleMono16(pcm, t.TelephonyRate, t.AIRate)
}

// AIToTelephony converts a PCM16 payload from the AI leg into mu-law at the
// telephony rate: decimate, then compand.
func (t *Transcoder) AIToTelephony(pcm []byte) []byte {
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm)%2 != 0 {
		t.warnedCorrupt.Do(func() {
			slog.Warn("audio transcoder: odd byte count in PCM payload, dropping",
				"bytes", len(pcm),
				"sampleRate", t.AIRate,
			)
		})
		return nil
	}
	down := DownsampleMono16(pcm, t.AIRate, t.TelephonyRate)
	return EncodeMuLaw(down)
}
