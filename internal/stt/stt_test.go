package stt

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribeParsesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"text":"hello world"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 4)
	res, err := c.Transcribe(context.Background(), make([]byte, 100), "base", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("got %q, want %q", res.Text, "hello world")
	}
}

func TestTranscribeNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	c := New(srv.URL, 4)
	if _, err := c.Transcribe(context.Background(), make([]byte, 10), "", ""); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestTranscribeStreamEmitsSegmentsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference/stream" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"text":"hel"}`)
		fmt.Fprintln(w, `{"text":"hello"}`)
		fmt.Fprintln(w, `{"text":"hello world","final":true}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 4)
	segs, err := c.TranscribeStream(context.Background(), make([]byte, 10), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []Segment
	for seg := range segs {
		got = append(got, seg)
	}

	if len(got) != 3 {
		t.Fatalf("got %d segments, want 3", len(got))
	}
	if got[0].Text != "hel" || got[1].Text != "hello" || got[2].Text != "hello world" {
		t.Fatalf("segments out of order: %+v", got)
	}
	if !got[2].Final {
		t.Fatal("expected last segment to be marked final")
	}
}
