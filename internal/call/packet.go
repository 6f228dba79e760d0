// Package call orchestrates one bridged phone call: the telephony media
// stream on one side, a realtime AI session on the other, and the pacing,
// barge-in, human-takeover, and goodbye machinery between them.
package call

import "time"

// Speaker identifies who produced an audio packet or transcript line.
type Speaker string

const (
	SpeakerCaller Speaker = "Caller"
	SpeakerAI     Speaker = "AI"
	SpeakerHuman  Speaker = "Human"
)

// Codec identifies the encoding of a packet payload.
type Codec string

const (
	CodecMuLaw Codec = "mulaw"
	CodecPCM16 Codec = "pcm16"
)

// Packet is one immutable chunk of call audio moving through the bridge.
type Packet struct {
	Speaker    Speaker
	Payload    []byte
	Codec      Codec
	SampleRate int
	Timestamp  time.Time
}

// Duration returns the real-time playback length of the payload. Mu-law
// carries one sample per byte, PCM16 two bytes per sample.
func (p Packet) Duration() time.Duration {
	if p.SampleRate <= 0 || len(p.Payload) == 0 {
		return 0
	}
	samples := len(p.Payload)
	if p.Codec == CodecPCM16 {
		samples /= 2
	}
	return time.Duration(samples) * time.Second / time.Duration(p.SampleRate)
}
