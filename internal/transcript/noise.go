package transcript

import (
	"strings"
	"unicode"

	"github.com/voxwire/voxwire/internal/transcript/phonetic"
)

// acknowledgements is the fixed list of low-information caller utterances
// the noise filter removes. Matching is phonetic, so spelling variants the
// transcription model produces ("okey", "mm-hm") are caught too.
var acknowledgements = []string{
	"thank you",
	"thanks",
	"bye",
	"goodbye",
	"okay",
	"ok",
	"yeah",
	"yes",
	"no",
	"um",
	"uh",
	"hmm",
	"mhm",
	"ah",
}

const (
	// minUtteranceLen: anything shorter is noise regardless of content.
	minUtteranceLen = 3
	// maxNoiseLen: anything longer carries information and always passes.
	maxNoiseLen = 15
)

type noiseFilter struct {
	matcher *phonetic.Matcher
}

func newNoiseFilter() *noiseFilter {
	return &noiseFilter{matcher: phonetic.New()}
}

// isNoise reports whether a caller utterance is a bare acknowledgement.
func (f *noiseFilter) isNoise(text string) bool {
	normalized := normalizeUtterance(text)
	if len(normalized) < minUtteranceLen {
		return true
	}
	if len(normalized) > maxNoiseLen {
		return false
	}
	for _, ack := range acknowledgements {
		if normalized == ack {
			return true
		}
	}
	_, _, matched := f.matcher.Match(normalized, acknowledgements)
	return matched
}

// normalizeUtterance lowercases, strips punctuation, and collapses runs of
// whitespace so "Thank you!!" and "thank   you" compare equal.
func normalizeUtterance(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
