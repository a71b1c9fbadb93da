package session

import "testing"

func TestNewSessionStartsIdle(t *testing.T) {
	s := New("s1", DefaultConfig())
	if s.State() != StateIdle {
		t.Fatalf("got %v, want StateIdle", s.State())
	}
}

func TestTransitionUpdatesState(t *testing.T) {
	s := New("s1", DefaultConfig())
	s.Transition(StateListening)
	if s.State() != StateListening {
		t.Fatalf("got %v, want StateListening", s.State())
	}
}

func TestInterruptFlagRoundTrip(t *testing.T) {
	s := New("s1", DefaultConfig())
	if s.ConsumeInterrupted() {
		t.Fatal("expected no interrupt initially")
	}
	s.SetInterrupted()
	if !s.ConsumeInterrupted() {
		t.Fatal("expected interrupt to be observed")
	}
	if s.ConsumeInterrupted() {
		t.Fatal("expected interrupt flag to be cleared after consumption")
	}
}

func TestAppendAndHistory(t *testing.T) {
	s := New("s1", DefaultConfig())
	s.AppendMessage("user", "hello")
	s.AppendMessage("assistant", "hi there")

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("got %d messages, want 2", len(hist))
	}
	hist[0].Content = "mutated"
	if s.History()[0].Content != "hello" {
		t.Fatal("History() must return a copy, not the live slice")
	}
}

func TestResetUtteranceClearsPerUtteranceState(t *testing.T) {
	s := New("s1", DefaultConfig())
	s.PartialTranscript = "partial text"
	s.PhraseIndex = 3
	s.BargeInChunks = 2

	s.ResetUtterance()

	if s.PartialTranscript != "" || s.PhraseIndex != 0 || s.BargeInChunks != 0 {
		t.Fatal("expected per-utterance state cleared")
	}
}

func TestReconfigureRebuildsArbiterOnTurnFieldChange(t *testing.T) {
	s := New("s1", DefaultConfig())
	original := s.Turn

	cfg := s.Config
	cfg.MaxSilenceDuration = 10.0
	s.Reconfigure(cfg)

	if s.Turn == original {
		t.Fatal("expected arbiter to be rebuilt when turn-detection fields change")
	}
}

func TestReconfigurePreservesArbiterWhenTurnFieldsUnchanged(t *testing.T) {
	s := New("s1", DefaultConfig())
	original := s.Turn

	cfg := s.Config
	cfg.TTSVoice = "alloy"
	s.Reconfigure(cfg)

	if s.Turn != original {
		t.Fatal("expected arbiter to be left untouched when turn-detection fields are unchanged")
	}
}
