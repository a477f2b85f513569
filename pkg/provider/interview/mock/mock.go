// Package mock provides scripted [interview.Source] and
// [interview.Submitter] implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/parley-labs/parley/pkg/provider/interview"
)

// Backend is a scripted interview backend. Successive Current calls consume
// the Questions script; SubmitAnswer consumes the SubmitResults script.
// Calls are recorded for assertions. Safe for concurrent use.
type Backend struct {
	// Questions is the scripted sequence of Current responses. When
	// exhausted, Current returns Done.
	Questions []interview.Current

	// CurrentErrs maps call index → error, letting individual fetches fail.
	CurrentErrs map[int]error

	// SubmitResults is the scripted sequence of SubmitAnswer responses.
	// When exhausted, SubmitAnswer reports Completed.
	SubmitResults []interview.SubmitResult

	// SubmitErrs maps call index → error, letting individual submissions
	// fail.
	SubmitErrs map[int]error

	mu           sync.Mutex
	currentIdx   int
	submitIdx    int
	CurrentCalls []string // session IDs
	SubmitCalls  []string // submitted transcripts
}

var (
	_ interview.Source    = (*Backend)(nil)
	_ interview.Submitter = (*Backend)(nil)
)

// Current implements [interview.Source].
func (b *Backend) Current(_ context.Context, sessionID string) (interview.Current, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.currentIdx
	b.currentIdx++
	b.CurrentCalls = append(b.CurrentCalls, sessionID)

	if err, ok := b.CurrentErrs[idx]; ok {
		return interview.Current{}, err
	}
	if idx >= len(b.Questions) {
		return interview.Current{Done: true}, nil
	}
	return b.Questions[idx], nil
}

// SubmitAnswer implements [interview.Submitter].
func (b *Backend) SubmitAnswer(_ context.Context, _, transcript string) (interview.SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.submitIdx
	b.submitIdx++
	b.SubmitCalls = append(b.SubmitCalls, transcript)

	if err, ok := b.SubmitErrs[idx]; ok {
		return interview.SubmitResult{}, err
	}
	if idx >= len(b.SubmitResults) {
		return interview.SubmitResult{Completed: true}, nil
	}
	return b.SubmitResults[idx], nil
}

// Submitted returns a copy of all transcripts submitted so far.
func (b *Backend) Submitted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.SubmitCalls))
	copy(out, b.SubmitCalls)
	return out
}
