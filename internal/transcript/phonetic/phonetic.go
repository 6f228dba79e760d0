// Package phonetic matches a short spoken utterance against a list of
// canonical phrases by pronunciation rather than spelling.
//
// Transcription models render filler words and acknowledgements
// inconsistently ("okay"/"okey"/"o k", "mhm"/"mm-hm"), so exact string
// comparison misses most variants. The matcher works in two stages:
//
//  1. Double Metaphone codes are computed for every token of the utterance
//     and of each phrase; sharing any code makes the phrase a phonetic
//     candidate.
//
//  2. Candidates are ranked by Jaro-Winkler similarity on the normalized
//     strings, and the best one wins if it clears the phonetic threshold.
//     Without any phonetic candidate, a stricter pure-similarity threshold
//     applies instead.
//
// A Matcher is read-only after construction and safe for concurrent use.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetically
// aligned phrase to be accepted. Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity when no phrase aligns
// phonetically and pure string similarity decides. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks canonical phrases against a spoken utterance.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the phrase most similar in pronunciation to utterance. When
// matched is false, corrected equals utterance and confidence is 0.
func (m *Matcher) Match(utterance string, phrases []string) (corrected string, confidence float64, matched bool) {
	if len(phrases) == 0 || strings.TrimSpace(utterance) == "" {
		return utterance, 0, false
	}

	inputLower := strings.ToLower(strings.TrimSpace(utterance))
	inputTokens := strings.Fields(inputLower)
	inputCodes := codesForTokens(inputTokens)

	var (
		bestPhrase   string
		bestScore    float64
		bestPhonetic bool
	)

	for _, phrase := range phrases {
		phraseLower := strings.ToLower(strings.TrimSpace(phrase))
		if phraseLower == "" {
			continue
		}
		phraseTokens := strings.Fields(phraseLower)

		score := similarity(inputTokens, phraseTokens, inputLower, phraseLower)
		phonetically := codesOverlap(inputCodes, codesForTokens(phraseTokens))

		switch {
		case phonetically && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestPhrase, bestScore, bestPhonetic = phrase, score, true
			}
		case !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			bestPhrase, bestScore = phrase, score
		}
	}

	if bestPhrase == "" {
		return utterance, 0, false
	}
	return bestPhrase, bestScore, true
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score across three views of the
// pair: full strings, space-stripped strings, and per-token alignment. The
// space-stripped view catches transcriptions that split or join words
// ("thankyou" vs "thank you").
func similarity(inputTokens, phraseTokens []string, inputFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(inputFull, phraseFull, false)

	if len(inputTokens) > 1 || len(phraseTokens) > 1 {
		joined1 := strings.Join(inputTokens, "")
		joined2 := strings.Join(phraseTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	if s := alignedTokens(inputTokens, phraseTokens); s > score {
		score = s
	}
	return score
}

// alignedTokens pairs every token on each side with its closest counterpart
// on the other and scores the weakest pairing. Each word must find a close
// pronunciation partner, so one shared word ("you" in "what time do you
// open") cannot pull an unrelated utterance up to a full match.
func alignedTokens(inputTokens, phraseTokens []string) float64 {
	if len(inputTokens) == 0 || len(phraseTokens) == 0 {
		return 0
	}
	score := 1.0
	for _, it := range inputTokens {
		if s := closestToken(it, phraseTokens); s < score {
			score = s
		}
	}
	for _, pt := range phraseTokens {
		if s := closestToken(pt, inputTokens); s < score {
			score = s
		}
	}
	return score
}

func closestToken(token string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := matchr.JaroWinkler(token, c, false); s > best {
			best = s
		}
	}
	return best
}
