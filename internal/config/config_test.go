package config_test

import (
	"testing"
	"time"

	"github.com/parley-labs/parley/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should not be a valid log level")
	}
	if config.LogLevel("").IsValid() {
		t.Error("empty string should not be a valid log level")
	}
}

func TestAudio_SampleIntervalDefault(t *testing.T) {
	t.Parallel()
	var a config.Audio
	if got := a.SampleInterval(); got != 100*time.Millisecond {
		t.Errorf("default sample interval = %v, want 100ms", got)
	}
	a.SampleIntervalMs = 250
	if got := a.SampleInterval(); got != 250*time.Millisecond {
		t.Errorf("sample interval = %v, want 250ms", got)
	}
}

func TestAPI_TranscribeEndpoint(t *testing.T) {
	t.Parallel()
	a := config.API{BaseURL: "http://localhost:8000"}
	if got := a.TranscribeEndpoint(); got != "http://localhost:8000/stt/transcribe" {
		t.Errorf("default endpoint = %q", got)
	}
	a.TranscribePath = "/v2/transcribe"
	if got := a.TranscribeEndpoint(); got != "http://localhost:8000/v2/transcribe" {
		t.Errorf("override endpoint = %q", got)
	}
}

func TestTurn_HangoverDefault(t *testing.T) {
	t.Parallel()
	var tr config.Turn
	if got := tr.Hangover(); got != time.Second {
		t.Errorf("default hangover = %v, want 1s", got)
	}
	tr.HangoverMs = 1200
	if got := tr.Hangover(); got != 1200*time.Millisecond {
		t.Errorf("hangover = %v, want 1.2s", got)
	}
}
