package turn

// State is the coordinator's composite turn phase. Exactly one phase holds at
// a time; it is owned exclusively by the coordinator's event loop and advances
// only on events.
type State int

const (
	// StateAwaitingQuestion means the next prompt is being fetched.
	StateAwaitingQuestion State = iota

	// StateInterviewerSpeaking means question audio is loading or playing.
	// Voice-activity detection is blocked for the duration.
	StateInterviewerSpeaking

	// StateListeningForUser means the detector is armed (or holding a draft
	// transcript for manual submission) and no recording is active.
	StateListeningForUser

	// StateUserRecording means an answer is being captured.
	StateUserRecording

	// StateHangoverWait means silence was detected and the grace timer is
	// pending; renewed speech returns to recording.
	StateHangoverWait

	// StateTranscribing means the finished clip is at the speech-to-text
	// service.
	StateTranscribing

	// StateSubmitting means the transcript is at the answer endpoint.
	StateSubmitting

	// StateComplete means the interview finished. Terminal.
	StateComplete
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingQuestion:
		return "awaiting_question"
	case StateInterviewerSpeaking:
		return "interviewer_speaking"
	case StateListeningForUser:
		return "listening_for_user"
	case StateUserRecording:
		return "user_recording"
	case StateHangoverWait:
		return "hangover_wait"
	case StateTranscribing:
		return "transcribing"
	case StateSubmitting:
		return "submitting"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}
