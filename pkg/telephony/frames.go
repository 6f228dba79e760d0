// Package telephony speaks the media-stream WebSocket protocol of a Twilio
// style telephony provider: JSON frames carrying base64 mu-law audio in both
// directions, plus mark and clear control frames, and a small REST client for
// call control outside the stream.
package telephony

// Frame is the envelope of every inbound message on a media stream. Exactly
// one of the event payloads is populated, matching Event.
type Frame struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Start          *StartFrame `json:"start,omitempty"`
	Media          *MediaFrame `json:"media,omitempty"`
	Mark           *MarkFrame  `json:"mark,omitempty"`
	Stop           *StopFrame  `json:"stop,omitempty"`
}

// StartFrame announces a new stream and identifies the call it belongs to.
type StartFrame struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid,omitempty"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

// MediaFormat describes the audio encoding of the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// MediaFrame carries one chunk of call audio.
type MediaFrame struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 mu-law
}

// MarkFrame echoes a mark previously sent on the outbound stream, confirming
// the provider has played all audio queued before it.
type MarkFrame struct {
	Name string `json:"name"`
}

// StopFrame signals the end of the stream.
type StopFrame struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// ── Outbound frames ───────────────────────────────────────────────────────────

type outboundMediaFrame struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     outboundMedia `json:"media"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type outboundMarkFrame struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Mark      outboundMark `json:"mark"`
}

type outboundMark struct {
	Name string `json:"name"`
}

type outboundClearFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
