// Package config provides the configuration schema, loader, and file watcher
// for the Parley interview client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server Server `yaml:"server"`
	API    API    `yaml:"api"`
	Audio  Audio  `yaml:"audio"`
	Turn   Turn   `yaml:"turn"`
}

// Server holds the local HTTP surface (metrics, health, state feed) and
// logging settings.
type Server struct {
	// ListenAddr is the TCP address the local server listens on
	// (e.g., "127.0.0.1:9100"). Empty disables the local server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// API holds the interview backend connection settings.
type API struct {
	// BaseURL is the interview backend root (e.g., "http://localhost:8000").
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token sent with every request.
	Token string `yaml:"token"`

	// SessionID is the interview session to conduct.
	SessionID string `yaml:"session_id"`

	// TranscribePath overrides the transcription endpoint path.
	// Defaults to "/stt/transcribe".
	TranscribePath string `yaml:"transcribe_path"`
}

// Audio holds input/output device settings.
type Audio struct {
	// Backend selects the device backend: "portaudio" or "mock".
	// Defaults to "portaudio".
	Backend string `yaml:"backend"`

	// SampleRate is the capture sample rate in Hz. Defaults to 16000, the
	// rate the transcription service resamples to anyway.
	SampleRate int `yaml:"sample_rate"`

	// SampleIntervalMs is the amplitude measurement cadence in milliseconds.
	// Defaults to 100.
	SampleIntervalMs int `yaml:"sample_interval_ms"`
}

// Turn holds the turn-taking tuning knobs. Observed values for these vary
// between deployments; they are configuration, not contract.
type Turn struct {
	// SpeechThreshold is the normalized amplitude above which a sample
	// counts as voice. Range (0, 1]. Defaults to 0.08 (≈20 on an 8-bit
	// loudness scale).
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the normalized amplitude at or below which a
	// sample counts as silence while speaking. Zero means no hysteresis
	// band (equal to SpeechThreshold).
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// DebounceCount is the number of consecutive silent samples that end a
	// speaking run. Defaults to 10 (≈1 s at the default cadence).
	DebounceCount int `yaml:"debounce_count"`

	// HangoverMs is the grace delay after detected silence before the
	// recording is finalized. Range [700, 1500] is typical; defaults to
	// 1000.
	HangoverMs int `yaml:"hangover_ms"`

	// AutoSubmit submits the transcript as soon as transcription succeeds.
	// When false the transcript is held for manual review and submission.
	AutoSubmit bool `yaml:"auto_submit"`
}

// TranscribeEndpoint returns the full transcription endpoint URL.
func (a API) TranscribeEndpoint() string {
	path := a.TranscribePath
	if path == "" {
		path = "/stt/transcribe"
	}
	return a.BaseURL + path
}

// SampleInterval returns the amplitude cadence as a duration.
func (a Audio) SampleInterval() time.Duration {
	if a.SampleIntervalMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(a.SampleIntervalMs) * time.Millisecond
}

// Hangover returns the hang-over grace delay as a duration.
func (t Turn) Hangover() time.Duration {
	if t.HangoverMs <= 0 {
		return time.Second
	}
	return time.Duration(t.HangoverMs) * time.Millisecond
}
