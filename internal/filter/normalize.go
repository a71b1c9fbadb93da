package filter

import (
	"regexp"
	"strings"
)

// MaxTTSTextLen caps a normalized phrase before it is sent to TTS (spec
// §4.10); excess is truncated rather than rejected.
const MaxTTSTextLen = 5000

var (
	reBold       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reItalicStar = regexp.MustCompile(`\*([^*]+)\*`)
	reBoldUnder  = regexp.MustCompile(`__([^_]+)__`)
	reItalicUnd  = regexp.MustCompile(`_([^_]+)_`)
	reHeader     = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	reFencedCode = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`([^`]*)`")
	reBullet     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	reNumbered   = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)
	reURL        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// abbreviations expand before acronyms so "Dr." never collides with an
// all-caps acronym match.
var abbreviations = []struct{ from, to string }{
	{"Dr.", "Doctor"},
	{"Mr.", "Mister"},
	{"Mrs.", "Misses"},
	{"Ms.", "Miss"},
	{"Prof.", "Professor"},
	{"etc.", "et cetera"},
	{"e.g.", "for example"},
	{"i.e.", "that is"},
	{"vs.", "versus"},
	{"w/o", "without"},
	{"w/", "with"},
	{"&", "and"},
}

// acronyms expand to their pronounceable spoken forms (spec §4.10).
var acronyms = map[string]string{
	"AI":  "ayeye",
	"API": "A P I",
	"URL": "U R L",
	"SQL": "sequel",
	"GUI": "gooey",
	"CEO": "C E O",
	"CTO": "C T O",
	"VP":  "V P",
	"HR":  "H R",
	"IT":  "I T",
	"UI":  "U I",
	"UX":  "U X",
}

var reAcronym = regexp.MustCompile(`\b(AI|API|URL|SQL|GUI|CEO|CTO|VP|HR|IT|UI|UX)\b`)

// NormalizeForSpeech applies markdown stripping, abbreviation/acronym
// expansion, URL removal, and whitespace collapsing to text just before it
// is sent to TTS (spec §4.10). Contractions are intentionally left alone.
func NormalizeForSpeech(text string) string {
	text = reFencedCode.ReplaceAllString(text, "")
	text = reLink.ReplaceAllString(text, "$1")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reBold.ReplaceAllString(text, "$1")
	text = reBoldUnder.ReplaceAllString(text, "$1")
	text = reItalicStar.ReplaceAllString(text, "$1")
	text = reItalicUnd.ReplaceAllString(text, "$1")
	text = reHeader.ReplaceAllString(text, "")
	text = reBullet.ReplaceAllString(text, "")
	text = reNumbered.ReplaceAllString(text, "")
	text = reURL.ReplaceAllString(text, "")

	for _, a := range abbreviations {
		text = strings.ReplaceAll(text, a.from, a.to)
	}
	text = reAcronym.ReplaceAllStringFunc(text, func(m string) string {
		return acronyms[m]
	})

	text = reWhitespace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if len(text) > MaxTTSTextLen {
		text = text[:MaxTTSTextLen]
	}
	return text
}
