// Package phrase implements the phrase boundary detector (spec §4.11):
// it accumulates LLM tokens and emits complete phrases at natural
// boundaries, with a faster first-phrase threshold to minimize
// time-to-first-audio. Ported from the teacher corpus's
// PhraseBoundaryDetector.
package phrase

import (
	"regexp"
	"strings"
)

// Config controls boundary strictness and length thresholds.
type Config struct {
	MinPhraseLength      int
	MaxPhraseLength      int
	MaxWordCount         int
	FirstPhraseMinLength int
	ConjunctionMinLength int
	SentenceBoundaryOnly bool
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		MinPhraseLength:      12,
		MaxPhraseLength:      500,
		MaxWordCount:         80,
		FirstPhraseMinLength: 5,
		ConjunctionMinLength: 40,
		SentenceBoundaryOnly: true,
	}
}

var (
	sentenceEnds = regexp.MustCompile(`[.!?](\s|$)`)
	newline      = regexp.MustCompile(`\n`)
	clauseEnds   = regexp.MustCompile(`[;:,]\s`)
	dashBreaks   = regexp.MustCompile(`\s[-—]\s`)
	parenClose   = regexp.MustCompile(`\)\s`)
	conjunctions = regexp.MustCompile(`(?i)\s(and|or|but|so|yet)\s`)
)

// Detector accumulates tokens and emits phrases at boundaries.
type Detector struct {
	cfg        Config
	buf        strings.Builder
	firstEmitted bool
}

// NewDetector creates a Detector with cfg.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Reset clears buffered state for a new response.
func (d *Detector) Reset() {
	d.buf.Reset()
	d.firstEmitted = false
}

func (d *Detector) effectiveMin() int {
	if !d.firstEmitted {
		return d.cfg.FirstPhraseMinLength
	}
	return d.cfg.MinPhraseLength
}

// AddToken feeds one token fragment and returns zero or more phrases
// emitted as a result (a single token can complete more than one short
// phrase when boundaries are dense).
func (d *Detector) AddToken(token string) []string {
	d.buf.WriteString(token)
	var out []string
	for {
		phrase, ok := d.tryEmit()
		if !ok {
			break
		}
		out = append(out, phrase)
	}
	return out
}

// tryEmit attempts one split from the current buffer.
func (d *Detector) tryEmit() (string, bool) {
	text := d.buf.String()
	minLen := d.effectiveMin()

	if idx := firstStrongBoundary(text, minLen); idx >= 0 {
		return d.splitAt(text, idx)
	}

	if !d.cfg.SentenceBoundaryOnly {
		if idx := firstWeakBoundary(text, minLen, d.cfg.ConjunctionMinLength); idx >= 0 {
			return d.splitAt(text, idx)
		}
	}

	words := strings.Fields(text)
	if len(text) >= d.cfg.MaxPhraseLength || len(words) >= d.cfg.MaxWordCount {
		return d.forceSplit(text)
	}

	return "", false
}

// firstStrongBoundary returns the split index (exclusive end of the
// emitted phrase), or -1 if none. Sentence-ending punctuation is always
// emitted regardless of minLen (spec §4.11: "Strong boundaries (always
// emit): sentence-ending `.`, `!`, `?`..."); only the newline boundary is
// gated on the effective minimum length.
func firstStrongBoundary(text string, minLen int) int {
	best := -1
	if loc := sentenceEnds.FindStringIndex(text); loc != nil {
		best = loc[0] + 1 // include the punctuation, drop the trailing space
	}
	if len(text) >= minLen {
		if loc := newline.FindStringIndex(text); loc != nil {
			best = minOrSet(best, loc[0])
		}
	}
	return best
}

func firstWeakBoundary(text string, minLen, conjMinLen int) int {
	best := -1
	for _, loc := range clauseEnds.FindAllStringIndex(text, -1) {
		if loc[0]+1 >= minLen {
			best = minOrSet(best, loc[0]+1)
			break
		}
	}
	for _, loc := range dashBreaks.FindAllStringIndex(text, -1) {
		if loc[0] >= minLen {
			best = minOrSet(best, loc[0])
			break
		}
	}
	for _, loc := range parenClose.FindAllStringIndex(text, -1) {
		if loc[0]+1 >= minLen {
			best = minOrSet(best, loc[0]+1)
			break
		}
	}
	if len(text) >= conjMinLen {
		if loc := conjunctions.FindStringIndex(text); loc != nil {
			best = minOrSet(best, loc[0])
		}
	}
	return best
}

func minOrSet(best, candidate int) int {
	if best < 0 || candidate < best {
		return candidate
	}
	return best
}

// forceSplit is reached once the buffer has grown past the max length or
// word count with no natural boundary found: retry the boundary searches
// ignoring the minimum-length floor, then fall back to a midpoint word
// split, then (if a single token has no internal whitespace at all) emit
// the whole buffer as a last resort.
func (d *Detector) forceSplit(text string) (string, bool) {
	if idx := firstStrongBoundary(text, 0); idx >= 0 {
		return d.splitAt(text, idx)
	}
	if idx := firstWeakBoundary(text, 0, 0); idx >= 0 {
		return d.splitAt(text, idx)
	}

	words := strings.Fields(text)
	if len(words) < 2 {
		return d.splitAt(text, len(text))
	}

	mid := len(words) / 2
	cut := wordBoundaryByteOffset(text, words, mid)
	if cut <= 0 || cut >= len(text) {
		return d.splitAt(text, len(text))
	}
	return d.splitAt(text, cut)
}

// wordBoundaryByteOffset finds the byte offset in text immediately after
// the wordIdx-th word (0-based), i.e. a safe midpoint split point.
func wordBoundaryByteOffset(text string, words []string, wordIdx int) int {
	count := 0
	inWord := false
	for i, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if !isSpace && !inWord {
			inWord = true
			count++
		} else if isSpace {
			inWord = false
			if count == wordIdx+1 {
				return i
			}
		}
		_ = words
	}
	return -1
}

func (d *Detector) splitAt(text string, end int) (string, bool) {
	if end <= 0 || end > len(text) {
		return "", false
	}
	phrase := strings.TrimSpace(text[:end])
	rest := text[end:]
	d.buf.Reset()
	d.buf.WriteString(rest)
	if phrase == "" {
		return "", false
	}
	d.firstEmitted = true
	return phrase, true
}

// Flush emits whatever remains at end of response.
func (d *Detector) Flush() string {
	text := strings.TrimSpace(d.buf.String())
	d.buf.Reset()
	return text
}
