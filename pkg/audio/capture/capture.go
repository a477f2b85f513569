// Package capture owns the recording session for one answer.
//
// A Controller runs at most one recording session at a time. It does not open the
// microphone itself: the sampler already holds the device's single open
// stream, and the controller marks an encoding span on that shared stream.
// Start begins buffering encoded audio; Stop finalizes the buffer into a
// [audio.Clip]. Closing the stream stays with its owner, the sampler.
//
// The controller is the enforcement point for the audio-focus invariant:
// Start is refused while a session is recording, a previous clip is still
// finalizing, or playback is active.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parley-labs/parley/pkg/audio"
)

// ErrAlreadyActive is returned by [Controller.Start] when a capture session
// is already in progress or playback currently holds audio focus. The
// refusal is a reported condition, not a state change: the existing session
// (or playback) continues untouched.
var ErrAlreadyActive = errors.New("capture: session already active")

// StreamSource supplies the already-open microphone stream. Implemented by
// the sampler, which owns the stream's lifecycle. Stream returns nil when
// the microphone is not armed.
type StreamSource interface {
	Stream() audio.Stream
}

// State describes one recording attempt's lifecycle.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota

	// StateRecording means audio chunks are being buffered.
	StateRecording

	// StateFinalizing means Stop is assembling the buffered chunks into a clip.
	StateFinalizing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Controller owns the active recording session on the shared microphone
// stream. All methods are safe for concurrent use.
type Controller struct {
	source        StreamSource
	playbackGuard func() bool

	mu        sync.Mutex
	state     State
	stream    audio.Stream
	startedAt time.Time
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithPlaybackGuard installs a predicate consulted by Start. When the guard
// reports true — playback currently active — Start is refused with
// [ErrAlreadyActive]. This is how the mutual-exclusion invariant between
// playback and recording is enforced.
func WithPlaybackGuard(active func() bool) Option {
	return func(c *Controller) { c.playbackGuard = active }
}

// New creates a Controller recording from the given stream source.
func New(source StreamSource, opts ...Option) *Controller {
	c := &Controller{source: source}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is currently recording or finalizing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateIdle
}

// Start begins buffering encoded audio on the shared microphone stream.
//
// Start is refused with [ErrAlreadyActive] if a session is already recording,
// a previous clip is still finalizing, or playback is currently active. It
// fails with [audio.ErrDeviceUnavailable] when the microphone is not armed,
// meaning the source has no open stream; in every failure the controller
// remains Idle and the shared stream is untouched.
func (c *Controller) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyActive
	}
	if c.playbackGuard != nil && c.playbackGuard() {
		return fmt.Errorf("%w: playback holds audio focus", ErrAlreadyActive)
	}

	stream := c.source.Stream()
	if stream == nil {
		return fmt.Errorf("capture: microphone not armed: %w", audio.ErrDeviceUnavailable)
	}
	if err := stream.StartEncoding(); err != nil {
		return fmt.Errorf("capture: start encoding: %w", err)
	}

	c.stream = stream
	c.state = StateRecording
	c.startedAt = time.Now()
	return nil
}

// Stop finalizes the buffered chunks into a single clip. The shared stream
// stays open; only its owner closes it.
//
// Stop is idempotent: calling it when already idle is a no-op that returns
// (nil, nil), not an error.
func (c *Controller) Stop() (*audio.Clip, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = StateFinalizing
	stream := c.stream
	started := c.startedAt
	c.mu.Unlock()

	clip, err := stream.StopEncoding()

	c.mu.Lock()
	c.stream = nil
	c.state = StateIdle
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("capture: finalize clip: %w", err)
	}
	if clip != nil && clip.Duration == 0 {
		clip.Duration = time.Since(started)
	}
	return clip, nil
}
