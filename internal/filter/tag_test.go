package filter

import "testing"

func TestTagFilterStripsSimpleTag(t *testing.T) {
	f := NewTagFilter("think", false)
	out := f.Feed("before <think>secret</think> after")
	out += f.Flush()
	if out != "before  after" {
		t.Fatalf("got %q", out)
	}
}

func TestTagFilterHandlesSplitAcrossTokens(t *testing.T) {
	f := NewTagFilter("think", false)
	var out string
	for _, tok := range []string{"hello <thi", "nk>hidd", "en</th", "ink> world"} {
		out += f.Feed(tok)
	}
	out += f.Flush()
	if out != "hello  world" {
		t.Fatalf("got %q", out)
	}
}

func TestTagFilterCaseInsensitive(t *testing.T) {
	f := NewTagFilter("think", false)
	out := f.Feed("<THINK>nope</THINK>kept")
	out += f.Flush()
	if out != "kept" {
		t.Fatalf("got %q", out)
	}
}

func TestTagFilterCapture(t *testing.T) {
	f := NewTagFilter("input", true)
	out := f.Feed("<input>what I heard</input>rest")
	out += f.Flush()
	if out != "rest" {
		t.Fatalf("got %q", out)
	}
	if f.Captured() != "what I heard" {
		t.Fatalf("captured = %q", f.Captured())
	}
}

func TestTagFilterUnterminatedTagDroppedOnFlush(t *testing.T) {
	f := NewTagFilter("think", false)
	out := f.Feed("before <think>never closes")
	out += f.Flush()
	if out != "before " {
		t.Fatalf("got %q", out)
	}
}

func TestTagFilterNoTagPassesThrough(t *testing.T) {
	f := NewTagFilter("think", false)
	out := f.Feed("just plain text")
	out += f.Flush()
	if out != "just plain text" {
		t.Fatalf("got %q", out)
	}
}
