package health

import (
	"context"
	"fmt"

	"github.com/parley-labs/parley/pkg/audio"
)

// BackendPinger is anything that can probe the interview backend, typically
// the interview client's Health method.
type BackendPinger interface {
	Health(ctx context.Context) error
}

// Backend returns a readiness checker that probes the interview backend.
// The session cannot proceed when questions cannot be fetched, so a failing
// backend makes the process not-ready.
func Backend(p BackendPinger) Checker {
	return Checker{
		Name: "backend",
		Check: func(ctx context.Context) error {
			if err := p.Health(ctx); err != nil {
				return fmt.Errorf("interview backend: %w", err)
			}
			return nil
		},
	}
}

// Microphone returns a readiness checker that opens and immediately releases
// the input device. It reports permission and availability problems before an
// interview starts rather than at the first speech-start.
func Microphone(dev audio.Device) Checker {
	return Checker{
		Name: "microphone",
		Check: func(ctx context.Context) error {
			stream, err := dev.Open(ctx)
			if err != nil {
				return err
			}
			return stream.Close()
		},
	}
}
