package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/parley-labs/parley/pkg/provider/transcribe"
)

// GuardedTranscriber is a [transcribe.Provider] protected by a circuit
// breaker. After repeated service failures the breaker opens and further
// uploads fail immediately with [ErrCircuitOpen], so a finished answer stays
// held as a draft instead of waiting out yet another doomed round-trip.
//
// Two failure classes never count against the breaker: [transcribe.ErrEmptyAudio]
// is a property of the clip, not the service, and auth rejections end the
// session before a retry could ever happen.
type GuardedTranscriber struct {
	next transcribe.Provider
	cb   *CircuitBreaker
}

var _ transcribe.Provider = (*GuardedTranscriber)(nil)

// NewGuardedTranscriber wraps next with a circuit breaker built from cfg.
// Zero-valued cfg fields take the breaker's defaults; cfg.Name defaults to
// "transcribe".
func NewGuardedTranscriber(next transcribe.Provider, cfg CircuitBreakerConfig) *GuardedTranscriber {
	if cfg.Name == "" {
		cfg.Name = "transcribe"
	}
	return &GuardedTranscriber{
		next: next,
		cb:   NewCircuitBreaker(cfg),
	}
}

// Transcribe uploads clip through the breaker. When the breaker is open the
// clip is not sent and the error wraps [ErrCircuitOpen].
func (g *GuardedTranscriber) Transcribe(ctx context.Context, clip *transcribe.Clip) (string, error) {
	var (
		text    string
		passErr error
	)
	err := g.cb.Execute(func() error {
		t, err := g.next.Transcribe(ctx, clip)
		if err != nil && !countsAgainstBreaker(err) {
			passErr = err
			return nil
		}
		text = t
		return err
	})
	if passErr != nil {
		return "", passErr
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "", fmt.Errorf("transcription unavailable: %w", err)
	}
	return text, err
}

// BreakerState reports the current breaker state, for health reporting.
func (g *GuardedTranscriber) BreakerState() State {
	return g.cb.State()
}

func countsAgainstBreaker(err error) bool {
	if errors.Is(err, transcribe.ErrEmptyAudio) {
		return false
	}
	var se *transcribe.ServiceError
	if errors.As(err, &se) && se.Kind == "auth" {
		return false
	}
	return true
}
