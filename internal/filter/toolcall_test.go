package filter

import "testing"

func TestToolCallFilterExtractsInlineToolCall(t *testing.T) {
	f := NewToolCallFilter()
	var out string
	for _, tok := range []string{
		`Let me check `, `{"name": "lookup", `, `"arguments": "{\"q\":\"x\"}"}`, ` the weather.`,
	} {
		out += f.Feed(tok)
	}
	out += f.Flush()

	if out != "Let me check  the weather." {
		t.Fatalf("got %q", out)
	}
	if len(f.Detected) != 1 {
		t.Fatalf("expected exactly one detected tool call, got %d", len(f.Detected))
	}
}

func TestToolCallFilterPassesOrdinaryJSON(t *testing.T) {
	f := NewToolCallFilter()
	out := f.Feed(`the config is {"color": "blue", "size": 3} ok`)
	out += f.Flush()
	if out != `the config is {"color": "blue", "size": 3} ok` {
		t.Fatalf("got %q", out)
	}
	if len(f.Detected) != 0 {
		t.Fatalf("expected no detected tool calls, got %d", len(f.Detected))
	}
}

func TestToolCallFilterArrayWithToolCallKeyInFirstElement(t *testing.T) {
	f := NewToolCallFilter()
	out := f.Feed(`[{"name": "x", "arguments": "{}"}] spoken`)
	out += f.Flush()
	if out != " spoken" {
		t.Fatalf("got %q", out)
	}
	if len(f.Detected) != 1 {
		t.Fatalf("expected one detected tool call, got %d", len(f.Detected))
	}
}

func TestToolCallFilterUnterminatedJSONEmittedVerbatimOnFlush(t *testing.T) {
	f := NewToolCallFilter()
	out := f.Feed(`text {"name": "incomplete`)
	out += f.Flush()
	if out != `text {"name": "incomplete` {
		t.Fatalf("got %q", out)
	}
	if len(f.Detected) != 0 {
		t.Fatalf("expected no detected tool calls for malformed trailing JSON")
	}
}

func TestToolCallFilterEscapedQuotesInString(t *testing.T) {
	f := NewToolCallFilter()
	out := f.Feed(`before {"color": "a \"quoted\" value"} after`)
	out += f.Flush()
	if out != `before {"color": "a \"quoted\" value"} after` {
		t.Fatalf("got %q", out)
	}
}
