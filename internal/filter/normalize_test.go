package filter

import "testing"

func TestNormalizeStripsMarkdown(t *testing.T) {
	got := NormalizeForSpeech("**bold** and *italic* and `code` and [link](http://x.com)")
	want := "bold and italic and code and link"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeExpandsAcronyms(t *testing.T) {
	got := NormalizeForSpeech("ask the AI to hit the API over a URL")
	want := "ask the ayeye to hit the A P I over a U R L"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeExpandsAbbreviations(t *testing.T) {
	got := NormalizeForSpeech("Dr. Smith, e.g. this one")
	want := "Doctor Smith, for example this one"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizePreservesContractions(t *testing.T) {
	got := NormalizeForSpeech("I don't think we can't do it")
	want := "I don't think we can't do it"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeStripsURLs(t *testing.T) {
	got := NormalizeForSpeech("see https://example.com/path for more")
	want := "see for more"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeTruncatesAtMaxLength(t *testing.T) {
	long := make([]byte, MaxTTSTextLen+500)
	for i := range long {
		long[i] = 'a'
	}
	got := NormalizeForSpeech(string(long))
	if len(got) != MaxTTSTextLen {
		t.Fatalf("got len %d, want %d", len(got), MaxTTSTextLen)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := NormalizeForSpeech("too   many\n\nspaces")
	want := "too many spaces"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
