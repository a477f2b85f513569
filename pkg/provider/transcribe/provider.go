// Package transcribe defines the contract to the speech-to-text service that
// turns a finished answer clip into submittable text.
//
// Transcription is a batch round-trip: the coordinator uploads one finalized
// [audio.Clip] and receives plain text. The actual recognition algorithm is
// an external service consumed through this narrow contract — [Client] talks
// to it over HTTP, and the mock subpackage provides scripted doubles.
package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyAudio indicates the service received a clip with no usable speech
// payload (zero-length or undecodable audio).
var ErrEmptyAudio = errors.New("transcribe: empty audio")

// ServiceError is a transcription failure reported by the service or the
// transport. Kind tells the caller which failure class to surface.
type ServiceError struct {
	// Kind is one of "auth", "network", or "server".
	Kind string

	// StatusCode is the HTTP status when the failure came from the service,
	// zero for transport errors.
	StatusCode int

	// Detail describes the failure.
	Detail string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("transcribe: %s error: %s", e.Kind, e.Detail)
}

// Provider is the abstraction over any speech-to-text backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe uploads clip and returns the recognized text. The text may
	// be empty or whitespace-only; validating it is the caller's concern.
	// Fails with [ErrEmptyAudio] or a [*ServiceError].
	Transcribe(ctx context.Context, clip *Clip) (string, error)
}

// Clip is the audio payload accepted by a Provider. It mirrors the capture
// pipeline's clip without importing it, keeping this package free of the
// device layer.
type Clip struct {
	// Data is the encoded audio.
	Data []byte

	// MIMEType describes the encoding (e.g. "audio/wav", "audio/webm").
	MIMEType string

	// Filename is the name presented to the service. Optional.
	Filename string
}
