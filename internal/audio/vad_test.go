package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func toneChunk(n int, amplitude float64) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * 32767 * math.Sin(float64(i)*0.3))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func silenceChunk(n int) []byte {
	return make([]byte, n*2)
}

func TestCalculateEnergySilenceIsZero(t *testing.T) {
	if got := calculateEnergy(silenceChunk(100)); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestCalculateEnergyTruncatesOddByte(t *testing.T) {
	chunk := toneChunk(10, 0.5)
	chunk = append(chunk, 0x7F) // trailing half-sample
	if got := calculateEnergy(chunk); got <= 0 {
		t.Fatalf("expected nonzero energy, got %v", got)
	}
}

func TestVADTransitionsIdleToSpeakingToSilence(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.SampleRate = 100 // small rate so test chunks cross thresholds quickly
	v := NewVAD(cfg)

	if v.Current() != StateIdle {
		t.Fatalf("got %v, want StateIdle", v.Current())
	}

	v.ProcessChunk(toneChunk(50, 0.5))
	if v.Current() != StateSpeaking {
		t.Fatalf("got %v, want StateSpeaking", v.Current())
	}

	v.ProcessChunk(silenceChunk(50))
	if v.Current() != StateSilence {
		t.Fatalf("got %v, want StateSilence", v.Current())
	}
}

func TestVADEndOfSpeechFiresAfterSustainedSilence(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.SampleRate = 100
	cfg.SilenceDurationSeconds = 0.4
	cfg.MinSpeechDurationSeconds = 0.2
	v := NewVAD(cfg)

	v.ProcessChunk(toneChunk(50, 0.5)) // 0.5s speech, crosses min-speech

	var end bool
	for i := 0; i < 5 && !end; i++ {
		end = v.ProcessChunk(silenceChunk(10)) // 0.1s silence chunks
	}
	if !end {
		t.Fatal("expected end-of-speech to fire after sustained silence")
	}
}

func TestVADFalseAlarmFoldsSilenceBackIntoSpeech(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.SampleRate = 100
	v := NewVAD(cfg)

	v.ProcessChunk(toneChunk(50, 0.5))
	v.ProcessChunk(silenceChunk(10))
	if v.Current() != StateSilence {
		t.Fatalf("got %v, want StateSilence", v.Current())
	}

	speechBefore := v.SpeechDuration()
	if end := v.ProcessChunk(toneChunk(10, 0.5)); end {
		t.Fatal("resumed speech must not itself signal end-of-speech")
	}
	if v.Current() != StateSpeaking {
		t.Fatalf("got %v, want StateSpeaking after resumed speech", v.Current())
	}
	if v.SpeechDuration() <= speechBefore {
		t.Fatal("expected the folded silence duration to be added back into the speech run")
	}
}

func TestVADMinSpeechDurationFiltersBriefNoise(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.SampleRate = 100
	cfg.SilenceDurationSeconds = 0.1
	cfg.MinSpeechDurationSeconds = 1.0
	v := NewVAD(cfg)

	v.ProcessChunk(toneChunk(20, 0.5)) // 0.2s speech, below MinSpeechDurationSeconds
	end := v.ProcessChunk(silenceChunk(20))
	if end {
		t.Fatal("expected no end-of-speech for speech shorter than MinSpeechDurationSeconds")
	}
}

func TestVADResetReturnsToIdle(t *testing.T) {
	cfg := DefaultVADConfig()
	v := NewVAD(cfg)
	v.ProcessChunk(toneChunk(50, 0.5))
	v.Reset()
	if v.Current() != StateIdle {
		t.Fatalf("got %v, want StateIdle after Reset", v.Current())
	}
	if v.SpeechDuration() != 0 {
		t.Fatal("expected speech duration cleared after Reset")
	}
}

func TestVADCheckEndOfTurnRespectsDynamicThreshold(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.SampleRate = 100
	cfg.MinSpeechDurationSeconds = 0.1
	v := NewVAD(cfg)

	v.ProcessChunk(toneChunk(50, 0.5))
	v.ProcessChunk(silenceChunk(20)) // 0.2s silence

	if v.CheckEndOfTurn(0.5) {
		t.Fatal("expected no end-of-turn before the dynamic threshold is reached")
	}
	if !v.CheckEndOfTurn(0.2) {
		t.Fatal("expected end-of-turn once silence duration reaches the dynamic threshold")
	}
}
