// Package mock provides scripted in-memory implementations of the audio
// device contracts for tests. Behaviour is driven by exported fields; calls
// are recorded for assertions.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parley-labs/parley/pkg/audio"
)

// Device is a scripted [audio.Device].
type Device struct {
	// OpenErr, when non-nil, is returned by Open instead of a stream.
	OpenErr error

	// Clip is the clip returned by StopEncoding on streams opened from this
	// device. When nil, a small placeholder clip is returned.
	Clip *audio.Clip

	// Levels is the scripted sequence returned by successive Level calls
	// across all streams. When exhausted, Level keeps returning the last
	// value (or 0 if empty).
	Levels []float64

	// LevelErr, when non-nil, is returned by Level once the Levels script is
	// exhausted. Use audio.ErrDeviceLost to simulate device revocation.
	LevelErr error

	mu         sync.Mutex
	levelIdx   int
	OpenCalls  int
	openCount  int // streams currently open
	maxOpen    int
	CloseCalls int
}

var _ audio.Device = (*Device)(nil)

// Open returns a new scripted stream, or OpenErr.
func (d *Device) Open(_ context.Context) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.openCount++
	if d.openCount > d.maxOpen {
		d.maxOpen = d.openCount
	}
	return &Stream{dev: d}, nil
}

// OpenStreams returns the number of streams currently open.
func (d *Device) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount
}

// MaxOpenStreams returns the highest number of simultaneously open streams
// observed.
func (d *Device) MaxOpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

func (d *Device) nextLevel() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.levelIdx >= len(d.Levels) {
		if d.LevelErr != nil {
			return 0, d.LevelErr
		}
		if len(d.Levels) == 0 {
			return 0, nil
		}
		return d.Levels[len(d.Levels)-1], nil
	}
	v := d.Levels[d.levelIdx]
	d.levelIdx++
	return v, nil
}

func (d *Device) streamClosed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	if d.openCount > 0 {
		d.openCount--
	}
}

// Stream is the [audio.Stream] produced by a mock [Device].
type Stream struct {
	dev *Device

	mu       sync.Mutex
	encoding bool
	closed   bool

	// StartEncodingErr, when non-nil, is returned by StartEncoding.
	StartEncodingErr error

	// StopEncodingErr, when non-nil, is returned by StopEncoding.
	StopEncodingErr error
}

var _ audio.Stream = (*Stream)(nil)

// Level returns the device's next scripted level.
func (s *Stream) Level() (float64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, audio.ErrDeviceLost
	}
	s.mu.Unlock()
	return s.dev.nextLevel()
}

// StartEncoding begins a scripted recording.
func (s *Stream) StartEncoding() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartEncodingErr != nil {
		return s.StartEncodingErr
	}
	s.encoding = true
	return nil
}

// StopEncoding returns the device's scripted clip, or a placeholder.
func (s *Stream) StopEncoding() (*audio.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StopEncodingErr != nil {
		return nil, s.StopEncodingErr
	}
	if !s.encoding {
		return nil, nil
	}
	s.encoding = false
	if s.dev.Clip != nil {
		return s.dev.Clip, nil
	}
	return &audio.Clip{
		Data:     []byte("pcm"),
		MIMEType: "audio/wav",
		Duration: time.Second,
	}, nil
}

// Close releases the stream. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.streamClosed()
	return nil
}

// Player is a scripted [audio.Player].
type Player struct {
	// StartErr, when non-nil, is returned by Start. Use
	// audio.ErrPlaybackBlocked to simulate an autoplay refusal.
	StartErr error

	// AutoFinish, when true, completes each playback immediately after Start
	// so tests can drive the Ended transition without manual Finish calls.
	AutoFinish bool

	mu         sync.Mutex
	StartCalls []string // refs passed to Start
	active     *PlayerHandle
}

var _ audio.Player = (*Player)(nil)

// Start records the call and returns a controllable handle.
func (p *Player) Start(_ context.Context, ref string) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, ref)
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	h := &PlayerHandle{done: make(chan struct{})}
	p.active = h
	if p.AutoFinish {
		h.Finish(nil)
	}
	return h, nil
}

// Active returns the most recently started handle, or nil.
func (p *Player) Active() *PlayerHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// PlayerHandle is the controllable [audio.Playback] returned by a mock
// [Player]. Tests call Finish to simulate the resource reaching its end.
type PlayerHandle struct {
	mu        sync.Mutex
	done      chan struct{}
	err       error
	stopped   bool
	StopCalls int
}

var _ audio.Playback = (*PlayerHandle)(nil)

// Finish marks playback as ended with the given terminal error (nil for a
// clean end). Safe to call at most once; later calls are ignored.
func (h *PlayerHandle) Finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.err = err
	close(h.done)
}

// Done implements [audio.Playback].
func (h *PlayerHandle) Done() <-chan struct{} { return h.done }

// Err implements [audio.Playback].
func (h *PlayerHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stop implements [audio.Playback]. Idempotent; also completes Done.
func (h *PlayerHandle) Stop() error {
	h.mu.Lock()
	h.StopCalls++
	already := h.stopped
	h.stopped = true
	h.mu.Unlock()
	if !already {
		h.Finish(nil)
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (h *PlayerHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
