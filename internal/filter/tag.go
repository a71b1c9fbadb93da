// Package filter implements the streaming output filters applied to the
// LLM token stream before it reaches TTS (spec §4.10): a generic tag
// filter (the turn orchestrator uses it for `<think>` stripping only; no
// `<input>` filter is applied on the native-audio path), a tool-call
// JSON extractor, and a TTS text normalizer.
package filter

import "strings"

// TagFilter strips (or captures) one named tag's contents from a stream of
// token fragments, buffering across token boundaries. It is the Go
// equivalent of the teacher corpus's StreamingTagFilter.
type TagFilter struct {
	name    string
	capture bool

	inTag   bool
	buf     strings.Builder
	content strings.Builder // only used when capture is true

	openTag  string
	closeTag string
	// tailKeep is how many trailing bytes must be retained across Feed
	// calls so a split closing tag isn't missed (len("</name>")+1).
	tailKeep int
}

// NewTagFilter creates a filter for <name>...</name>. When capture is
// true, Captured() returns the accumulated tag body instead of discarding
// it; no caller in the gateway creates a capturing filter.
func NewTagFilter(name string, capture bool) *TagFilter {
	closeTag := "</" + name + ">"
	return &TagFilter{
		name:     name,
		capture:  capture,
		openTag:  "<" + name + ">",
		closeTag: closeTag,
		tailKeep: len(closeTag) + 1,
	}
}

// Feed processes one token fragment and returns the portion safe to emit
// downstream now (spec §4.10's "tail buffer" discipline).
func (f *TagFilter) Feed(token string) string {
	f.buf.WriteString(token)
	return f.consume()
}

func (f *TagFilter) consume() string {
	var out strings.Builder
	for {
		buf := f.buf.String()

		if f.inTag {
			idx := indexFoldCase(buf, f.closeTag)
			if idx >= 0 {
				if f.capture {
					f.content.WriteString(buf[:idx])
				}
				rest := buf[idx+len(f.closeTag):]
				f.buf.Reset()
				f.buf.WriteString(rest)
				f.inTag = false
				continue
			}
			// Stay in tag mode; retain enough tail to catch a split
			// closing tag across the next Feed call.
			if len(buf) > f.tailKeep {
				emit := buf[:len(buf)-f.tailKeep]
				if f.capture {
					f.content.WriteString(emit)
				}
				f.buf.Reset()
				f.buf.WriteString(buf[len(buf)-f.tailKeep:])
			}
			return out.String()
		}

		idx := indexFoldCase(buf, f.openTag)
		if idx >= 0 {
			out.WriteString(buf[:idx])
			rest := buf[idx+len(f.openTag):]
			f.buf.Reset()
			f.buf.WriteString(rest)
			f.inTag = true
			continue
		}

		if len(buf) > f.tailKeep {
			out.WriteString(buf[:len(buf)-f.tailKeep])
			f.buf.Reset()
			f.buf.WriteString(buf[len(buf)-f.tailKeep:])
		}
		return out.String()
	}
}

// Flush returns any trailing non-tagged buffer remaining at end of stream.
func (f *TagFilter) Flush() string {
	if f.inTag {
		// Unterminated tag at end of stream: drop/capture silently, per
		// teacher idiom of never emitting partial tag content.
		if f.capture {
			f.content.WriteString(f.buf.String())
		}
		f.buf.Reset()
		return ""
	}
	out := f.buf.String()
	f.buf.Reset()
	return out
}

// Captured returns the tag body accumulated so far (only meaningful when
// capture was requested at construction).
func (f *TagFilter) Captured() string {
	return f.content.String()
}

func indexFoldCase(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}
