// Package audio defines the shared audio types and device abstractions used
// by the Parley turn pipeline: amplitude samples flowing into voice-activity
// detection, finished clips flowing out of capture, and the narrow device
// contracts that concrete backends (portaudio, mocks) implement.
package audio

import (
	"context"
	"errors"
	"time"
)

// Device access errors. Backends must return these sentinels (possibly
// wrapped) so that callers can branch on the failure class.
var (
	// ErrPermissionDenied indicates the user or OS refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable indicates no usable input device exists or the
	// device could not be opened.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrDeviceLost indicates the device was revoked or disconnected while in
	// use. Streams surface this instead of silently yielding zero levels.
	ErrDeviceLost = errors.New("audio: input device lost")

	// ErrPlaybackBlocked indicates the playback backend refused to start
	// output under the current policy. No audio is emitted; the turn can
	// still proceed via a manual trigger.
	ErrPlaybackBlocked = errors.New("audio: playback blocked by policy")
)

// ActivitySample is one loudness measurement of the live microphone signal.
// Samples are produced at a fixed cadence while the detector is armed and
// discarded after use.
type ActivitySample struct {
	// Level is the normalized signal amplitude in [0, 1]. 0 is silence,
	// 1 is full-scale input.
	Level float64

	// At marks when the measurement was taken.
	At time.Time
}

// Clip is a finalized, bounded audio recording produced by one capture
// session. The encoding is backend-specific (the portaudio backend emits
// WAV); MIMEType tells the transcription service what it is getting.
type Clip struct {
	// SessionID is the interview session the clip was recorded for.
	SessionID string

	// QuestionID is the question the clip answers. Used to discard
	// transcription results that arrive after the coordinator has moved on.
	QuestionID int

	// Data is the encoded audio.
	Data []byte

	// MIMEType describes the encoding of Data (e.g. "audio/wav").
	MIMEType string

	// Duration is the clip length. Zero when the backend cannot determine it.
	Duration time.Duration
}

// Device is the microphone capability: exclusive audio input access that
// yields an open [Stream]. Implementations must be safe for concurrent use;
// each call to Open produces an independent stream.
type Device interface {
	// Open requests access to the input device. It fails with
	// [ErrPermissionDenied] or [ErrDeviceUnavailable] when access cannot be
	// obtained, in which case no resources are left held.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open handle on the input device. A Stream both measures live
// amplitude and, independently, encodes captured audio into a clip. It is
// owned by a single component at a time and released with Close.
type Stream interface {
	// Level returns the instantaneous normalized amplitude in [0, 1].
	// It fails with [ErrDeviceLost] if the device was revoked mid-use.
	Level() (float64, error)

	// StartEncoding begins buffering encoded audio chunks as they arrive.
	StartEncoding() error

	// StopEncoding finalizes the buffered chunks into a single clip.
	// Calling it without a prior StartEncoding returns a nil clip and no
	// error.
	StopEncoding() (*Clip, error)

	// Close releases the device unconditionally. It is idempotent: closing
	// an already-closed stream is a no-op, not an error.
	Close() error
}

// Player is the playback capability: begin streaming playback of a resource
// and report its terminal state. Resources are identified by a reference
// (typically a URL) resolved by the backend.
type Player interface {
	// Start begins playback of the resource identified by ref. It fails with
	// [ErrPlaybackBlocked] when output is refused by policy, in which case no
	// handle is left open.
	Start(ctx context.Context, ref string) (Playback, error)
}

// Playback is a single active playback instance.
type Playback interface {
	// Done is closed when playback reaches its end or is stopped. After Done
	// is closed, Err reports whether playback completed cleanly.
	Done() <-chan struct{}

	// Err returns the error that terminated playback early, or nil.
	Err() error

	// Stop pauses playback and releases the handle. It is idempotent.
	Stop() error
}
