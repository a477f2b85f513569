// Package interview defines the contracts to the interview backend: the
// question source the coordinator pulls prompts from and the answer sink it
// submits transcripts to.
//
// The interfaces are intentionally narrow so the turn coordinator stays
// backend-agnostic; [Client] implements both against the HTTP API, and the
// mock subpackage provides scripted doubles for tests.
package interview

import (
	"context"
	"errors"
	"fmt"
)

// ErrAuthExpired indicates the bearer token was rejected. Fatal to the
// session: the coordinator exits so the surrounding application can
// re-authenticate.
var ErrAuthExpired = errors.New("interview: authentication expired")

// Question is one interview prompt. Immutable once issued.
type Question struct {
	// ID identifies the question within the session.
	ID int

	// Text is the prompt read to the candidate.
	Text string

	// Topic and Difficulty categorize the prompt.
	Topic      string
	Difficulty string

	// AudioRef is an optional reference (URL path) to the synthesized voice
	// reading of Text. Empty when no voice audio exists for this question.
	AudioRef string
}

// Current is the result of fetching a session's current question.
type Current struct {
	// Done reports that the interview has no further questions; the
	// coordinator exits to the completion collaborator.
	Done bool

	// Index and Total give the candidate's progress (0-based index).
	Index int
	Total int

	// Question is the active prompt. Nil when Done.
	Question *Question
}

// SubmitResult is the backend's response to an answer submission.
type SubmitResult struct {
	// Completed reports that the submitted answer was the last one.
	Completed bool
}

// ValidationError is a rejected submission (e.g. an empty answer). The
// session remains resumable; the candidate may edit and retry.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("interview: validation: %s", e.Detail)
}

// Source yields the current question of a session.
type Source interface {
	// Current fetches the session's active question, or Done when the
	// interview is over. Fails with [ErrAuthExpired] on credential rejection.
	Current(ctx context.Context, sessionID string) (Current, error)
}

// Submitter delivers a transcript as the answer to the current question.
type Submitter interface {
	// SubmitAnswer submits transcript for the session's current question.
	// Fails with [ErrAuthExpired] on credential rejection and
	// [*ValidationError] when the backend refuses the answer content.
	// Submissions are never retried automatically — a duplicate answer is
	// worse than a surfaced failure.
	SubmitAnswer(ctx context.Context, sessionID, transcript string) (SubmitResult, error)
}
