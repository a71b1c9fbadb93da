package turn

import "testing"

func TestAnalyzeCompletenessOrdering(t *testing.T) {
	// Trailing preposition wins over the leading question-word pattern,
	// because INCOMPLETE patterns are checked first.
	if got := AnalyzeCompleteness("What do you want to"); got != Incomplete {
		t.Fatalf("got %v, want Incomplete", got)
	}
}

func TestAnalyzeCompletenessComplete(t *testing.T) {
	if got := AnalyzeCompleteness("That sounds great."); got != Complete {
		t.Fatalf("got %v, want Complete", got)
	}
}

func TestAnalyzeCompletenessShortNoPunctuation(t *testing.T) {
	if got := AnalyzeCompleteness("hi there"); got != Incomplete {
		t.Fatalf("got %v, want Incomplete", got)
	}
}

func TestRequiredSilenceNeverExceedsMax(t *testing.T) {
	a := NewArbiter(DefaultConfig())
	required := a.RequiredSilence("and so", 3.0)
	if required > a.cfg.MaxSilenceDuration {
		t.Fatalf("required=%v exceeds max=%v", required, a.cfg.MaxSilenceDuration)
	}
}

func TestRequiredSilenceDisabledAnalysis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLinguisticAnalysis = false
	a := NewArbiter(cfg)

	longSpeech := a.RequiredSilence("anything", 5.0)
	if longSpeech != cfg.BaseSilenceDuration {
		t.Fatalf("got %v, want base %v", longSpeech, cfg.BaseSilenceDuration)
	}

	shortSpeech := a.RequiredSilence("anything", 1.0)
	want := cfg.BaseSilenceDuration * cfg.ShortUtteranceSilenceMultiplier
	if shortSpeech != want {
		t.Fatalf("got %v, want %v", shortSpeech, want)
	}
}

// Scenario 4 from spec §8: incomplete partial transcript extends silence.
func TestShouldEndTurnIncompleteExtendsWait(t *testing.T) {
	a := NewArbiter(DefaultConfig())
	const transcript = "I need to go to"

	if a.ShouldEndTurn(0.6, 2.5, transcript) {
		t.Fatal("should not end turn at 0.6s silence for an incomplete transcript")
	}
	if !a.ShouldEndTurn(1.2, 2.5, transcript) {
		t.Fatal("should end turn once required 1.2s silence is reached")
	}
}

func TestShouldEndTurnHardMax(t *testing.T) {
	a := NewArbiter(DefaultConfig())
	if !a.ShouldEndTurn(2.5, 0.1, "um so") {
		t.Fatal("hard max silence must force end of turn regardless of completeness")
	}
}
