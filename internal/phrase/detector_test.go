package phrase

import "testing"

func TestDetectorFirstPhraseUsesShorterMinimum(t *testing.T) {
	d := NewDetector(DefaultConfig())
	phrases := d.AddToken("Hi there. ")
	if len(phrases) != 1 {
		t.Fatalf("expected first short sentence to emit immediately, got %v", phrases)
	}
	if phrases[0] != "Hi there." {
		t.Fatalf("got %q", phrases[0])
	}
}

// Spec §4.11: sentence-ending punctuation is a strong boundary that is
// always emitted, regardless of min_phrase_length — only the newline
// boundary (and, when enabled, weak boundaries) are gated on the
// effective minimum length.
func TestDetectorSentenceEndAlwaysEmitsRegardlessOfMinLength(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.AddToken("Hi there. ")
	phrases := d.AddToken("Ok.")
	if len(phrases) != 1 {
		t.Fatalf("expected the short second sentence to emit immediately despite min_phrase_length, got %v", phrases)
	}
	if phrases[0] != "Ok." {
		t.Fatalf("got %q", phrases[0])
	}
}

func TestDetectorNewlineGatedOnMinLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPhraseLength = 100
	cfg.FirstPhraseMinLength = 100
	d := NewDetector(cfg)
	phrases := d.AddToken("hi\n")
	if len(phrases) != 0 {
		t.Fatalf("expected a short newline-delimited buffer to stay withheld below min_phrase_length, got %v", phrases)
	}
}

func TestDetectorStrongBoundaryOnlyBySentenceEndOrNewline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SentenceBoundaryOnly = true
	d := NewDetector(cfg)
	phrases := d.AddToken("this has a comma, but it is not a sentence end so it keeps accumulating until a period.")
	if len(phrases) != 1 {
		t.Fatalf("expected exactly one phrase emitted at the period, got %v", phrases)
	}
}

func TestDetectorWeakBoundariesOnlyWhenNotSentenceOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SentenceBoundaryOnly = false
	d := NewDetector(cfg)
	phrases := d.AddToken("first clause here; second clause follows")
	if len(phrases) == 0 {
		t.Fatalf("expected a weak clause boundary split, got none")
	}
}

func TestDetectorForceSplitAtMaxLength(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPhraseLength = 20
	cfg.MinPhraseLength = 100 // unreachable, forces the max-length path
	cfg.FirstPhraseMinLength = 100
	d := NewDetector(cfg)
	phrases := d.AddToken("one two three four five six seven eight nine ten")
	if len(phrases) == 0 {
		t.Fatalf("expected a forced split once max_phrase_length was exceeded")
	}
	for _, p := range phrases {
		if len(p) > cfg.MaxPhraseLength+20 {
			t.Fatalf("phrase %q far exceeds max_phrase_length", p)
		}
	}
}

func TestDetectorFlushEmitsRemainder(t *testing.T) {
	d := NewDetector(DefaultConfig())
	d.AddToken("trailing fragment with no terminal punctuation")
	rest := d.Flush()
	if rest != "trailing fragment with no terminal punctuation" {
		t.Fatalf("got %q", rest)
	}
	if d.Flush() != "" {
		t.Fatalf("flush should be idempotent once drained")
	}
}

// Spec §8: the concatenation of emitted phrases plus flush remainder
// reconstructs the input (modulo phrase-boundary whitespace trimming).
func TestDetectorConcatenationRoundTrips(t *testing.T) {
	d := NewDetector(DefaultConfig())
	input := "First sentence here. Second sentence follows now. Trailing bit"
	var got string
	for _, tok := range []string{
		"First sen", "tence here. Se", "cond sentence follows now. ", "Trailing bit",
	} {
		for _, p := range d.AddToken(tok) {
			got += p + " "
		}
	}
	got += d.Flush()
	if flattenSpaces(got) != flattenSpaces(input) {
		t.Fatalf("got %q, want roughly %q", got, input)
	}
}

func flattenSpaces(s string) string {
	out := make([]byte, 0, len(s))
	prevSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		isSpace := c == ' '
		if isSpace && prevSpace {
			continue
		}
		out = append(out, c)
		prevSpace = isSpace
	}
	for len(out) > 0 && out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
	}
	return string(out)
}
