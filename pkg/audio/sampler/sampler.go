// Package sampler produces the periodic amplitude measurements that feed
// voice-activity detection.
//
// A Sampler owns an open [audio.Stream] for as long as sampling continues and
// emits one [audio.ActivitySample] per cadence tick on a lazily consumed
// channel. The sequence is conceptually infinite: it ends only when the
// sampler is stopped or the device is lost. Releasing the device is the
// caller's responsibility via Stop.
//
// The open stream is also the recording tap: Stream exposes it so capture
// can encode on the same handle, keeping the microphone singly owned.
package sampler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-labs/parley/pkg/audio"
)

// DefaultInterval is the sample cadence used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Sampler measures the live microphone signal's loudness at a fixed cadence.
//
// Start opens the device and begins emitting samples; Stop ends the sequence
// and releases the device. All methods are safe for concurrent use.
type Sampler struct {
	dev      audio.Device
	interval time.Duration

	mu      sync.Mutex
	stream  audio.Stream
	cancel  context.CancelFunc
	err     error
	running bool
}

// Option is a functional option for configuring a Sampler.
type Option func(*Sampler)

// WithInterval sets the sample cadence. Non-positive values are ignored.
// The default is [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New creates a Sampler over the given input device.
func New(dev audio.Device, opts ...Option) *Sampler {
	s := &Sampler{
		dev:      dev,
		interval: DefaultInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens the input device and returns a channel that emits one sample
// per cadence interval. The channel is closed when Stop is called, ctx is
// cancelled, or the device is lost mid-stream; in the device-lost case
// [Sampler.Err] returns [audio.ErrDeviceLost] rather than the sequence
// silently yielding zeros.
//
// Start fails with [audio.ErrPermissionDenied] or
// [audio.ErrDeviceUnavailable] when the device cannot be opened. Calling
// Start while already running returns the same error class as the device
// would: the sampler holds one stream at a time, so a second Start is
// refused with [audio.ErrDeviceUnavailable].
func (s *Sampler) Start(ctx context.Context) (<-chan audio.ActivitySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, audio.ErrDeviceUnavailable
	}

	stream, err := s.dev.Open(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.stream = stream
	s.cancel = cancel
	s.err = nil
	s.running = true

	out := make(chan audio.ActivitySample, 1)
	go s.run(runCtx, stream, out)
	return out, nil
}

// Stop ends the sample sequence and releases the device. It is idempotent
// and always safe to call, including during teardown of a sampler that was
// never started.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sampler) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	if err := s.stream.Close(); err != nil {
		slog.Warn("sampler: stream close failed", "err", err)
	}
	s.stream = nil
}

// Stream returns the stream the sampler currently holds open, or nil when
// the sampler is not running. The sampler keeps ownership: callers may read
// levels or encode on the stream, but must not close it.
func (s *Sampler) Stream() audio.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Err returns the error that terminated the sample sequence, or nil if the
// sequence ended cleanly (or is still running).
func (s *Sampler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// run is the sampling loop. It owns the out channel and closes it on exit.
func (s *Sampler) run(ctx context.Context, stream audio.Stream, out chan<- audio.ActivitySample) {
	defer close(out)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			level, err := stream.Level()
			if err != nil {
				s.mu.Lock()
				s.err = err
				s.stopLocked()
				s.mu.Unlock()
				return
			}
			sample := audio.ActivitySample{Level: level, At: time.Now()}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			default:
				// Consumer is behind; drop the sample rather than stall the
				// cadence. Amplitude measurements are only meaningful fresh.
			}
		}
	}
}
