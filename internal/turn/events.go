package turn

import (
	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/pkg/audio/playback"
	"github.com/parley-labs/parley/pkg/provider/interview"
)

// Events routed through the coordinator's queue. Device callbacks, timer
// expiries, and network completions never mutate coordinator state directly;
// they post one of these and the event loop applies it.
type event interface{ isEvent() }

// evQuestionResult carries the outcome of an asynchronous question fetch.
type evQuestionResult struct {
	cur interview.Current
	err error
}

// evFetchQuestion asks the loop to (re)issue the question fetch. Posted by
// the retry timer after a failed fetch.
type evFetchQuestion struct{}

// evPlaybackState is a playback controller transition, delivered via
// [Coordinator.OnPlaybackState].
type evPlaybackState struct {
	state playback.State
}

// evPlayFailed reports that starting playback of the current question's audio
// failed outright (not an autoplay block, which arrives as a Blocked state).
type evPlayFailed struct {
	questionID int
	err        error
}

// evTimerFired is a hang-over timer expiry. Stale expiries are detected by
// sequence number.
type evTimerFired struct {
	seq uint64
}

// evTranscriptResult carries the outcome of an asynchronous transcription
// upload. questionID guards against results arriving for a superseded turn.
type evTranscriptResult struct {
	questionID int
	text       string
	err        error
}

// evSubmitResult carries the outcome of an asynchronous answer submission.
type evSubmitResult struct {
	questionID int
	res        interview.SubmitResult
	err        error
}

// evManualSubmit is a user-initiated submission that bypasses the VAD and
// capture path. reply receives the acceptance decision (nil, or a validation
// or busy error) once the loop has handled the event.
type evManualSubmit struct {
	text  string
	reply chan error
}

// evReplay is a user-initiated replay of the current question's audio, used
// when autoplay was blocked.
type evReplay struct {
	reply chan error
}

// evRetune applies new turn-taking tuning from a config reload.
type evRetune struct {
	tuning config.Turn
}

func (evQuestionResult) isEvent()   {}
func (evFetchQuestion) isEvent()    {}
func (evPlaybackState) isEvent()    {}
func (evPlayFailed) isEvent()       {}
func (evTimerFired) isEvent()       {}
func (evTranscriptResult) isEvent() {}
func (evSubmitResult) isEvent()     {}
func (evManualSubmit) isEvent()     {}
func (evReplay) isEvent()           {}
func (evRetune) isEvent()           {}
