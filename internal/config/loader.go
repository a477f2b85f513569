package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidAudioBackends lists the recognised audio.backend values.
var ValidAudioBackends = []string{"portaudio", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// API
	if cfg.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if u, err := url.Parse(cfg.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", cfg.API.BaseURL))
	}
	if cfg.API.SessionID == "" {
		errs = append(errs, errors.New("api.session_id is required"))
	}
	if cfg.API.Token == "" {
		slog.Warn("api.token is empty; requests will be sent unauthenticated")
	}

	// Audio
	if cfg.Audio.Backend != "" && !slices.Contains(ValidAudioBackends, cfg.Audio.Backend) {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, mock", cfg.Audio.Backend))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SampleIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_interval_ms %d must not be negative", cfg.Audio.SampleIntervalMs))
	}

	// Turn tuning
	if cfg.Turn.SpeechThreshold != 0 {
		if cfg.Turn.SpeechThreshold <= 0 || cfg.Turn.SpeechThreshold > 1 {
			errs = append(errs, fmt.Errorf("turn.speech_threshold %.3f is out of range (0, 1]", cfg.Turn.SpeechThreshold))
		}
	}
	if cfg.Turn.SilenceThreshold != 0 {
		if cfg.Turn.SilenceThreshold < 0 || cfg.Turn.SilenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("turn.silence_threshold %.3f is out of range [0, 1]", cfg.Turn.SilenceThreshold))
		}
		if cfg.Turn.SpeechThreshold != 0 && cfg.Turn.SilenceThreshold > cfg.Turn.SpeechThreshold {
			errs = append(errs, fmt.Errorf("turn.silence_threshold %.3f must not exceed turn.speech_threshold %.3f", cfg.Turn.SilenceThreshold, cfg.Turn.SpeechThreshold))
		}
	}
	if cfg.Turn.DebounceCount < 0 {
		errs = append(errs, fmt.Errorf("turn.debounce_count %d must not be negative", cfg.Turn.DebounceCount))
	}
	if cfg.Turn.HangoverMs != 0 {
		if cfg.Turn.HangoverMs < 100 || cfg.Turn.HangoverMs > 10000 {
			errs = append(errs, fmt.Errorf("turn.hangover_ms %d is out of range [100, 10000]", cfg.Turn.HangoverMs))
		}
		if cfg.Turn.HangoverMs < 700 || cfg.Turn.HangoverMs > 1500 {
			slog.Warn("turn.hangover_ms is outside the usual range",
				"hangover_ms", cfg.Turn.HangoverMs,
				"usual", "[700, 1500]",
			)
		}
	}

	return errors.Join(errs...)
}
