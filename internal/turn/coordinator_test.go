package turn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/turn"
	"github.com/parley-labs/parley/pkg/audio"
	"github.com/parley-labs/parley/pkg/audio/capture"
	"github.com/parley-labs/parley/pkg/audio/playback"
	"github.com/parley-labs/parley/pkg/provider/interview"
	imock "github.com/parley-labs/parley/pkg/provider/interview/mock"
	"github.com/parley-labs/parley/pkg/provider/transcribe"
	tmock "github.com/parley-labs/parley/pkg/provider/transcribe/mock"
)

const (
	speech  = 0.5  // comfortably above the test threshold
	silence = 0.01 // comfortably below
)

// testTuning keeps the debounce and hang-over short so tests run fast.
var testTuning = config.Turn{
	SpeechThreshold: 0.08,
	DebounceCount:   3,
	HangoverMs:      40,
	AutoSubmit:      true,
}

// ─── Test doubles for the audio side ───
//
// The provider mocks are the shared scripted ones; the audio controllers get
// local fakes so tests can feed amplitude levels and finish playback
// deterministically instead of waiting on real cadence timers.

type fakeSampler struct {
	mu       sync.Mutex
	ch       chan audio.ActivitySample
	err      error
	startErr error
	starts   int
	stops    int
}

func (f *fakeSampler) Start(ctx context.Context) (<-chan audio.ActivitySample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	f.err = nil
	f.ch = make(chan audio.ActivitySample, 64)
	return f.ch, nil
}

func (f *fakeSampler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil {
		f.stops++
		close(f.ch)
		f.ch = nil
	}
}

func (f *fakeSampler) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// feed emits one sample per level on the current channel.
func (f *fakeSampler) feed(levels ...float64) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	for _, l := range levels {
		ch <- audio.ActivitySample{Level: l, At: time.Now()}
	}
}

// lose simulates the device being revoked mid-stream.
func (f *fakeSampler) lose(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	if f.ch != nil {
		close(f.ch)
		f.ch = nil
	}
}

func (f *fakeSampler) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeCapture struct {
	mu         sync.Mutex
	guard      func() bool
	startErr   error
	stopErr    error
	active     bool
	starts     int
	stops      int
	violations int // Start attempts made while the playback guard was up
}

func (f *fakeCapture) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.guard != nil && f.guard() {
		f.violations++
		return capture.ErrAlreadyActive
	}
	if f.active {
		return capture.ErrAlreadyActive
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	f.starts++
	return nil
}

func (f *fakeCapture) Stop() (*audio.Clip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return nil, nil
	}
	f.active = false
	f.stops++
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &audio.Clip{Data: []byte("encoded-audio"), MIMEType: "audio/wav"}, nil
}

func (f *fakeCapture) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCapture) counts() (starts, stops, violations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.violations
}

type fakePlayback struct {
	mu      sync.Mutex
	onPlay  func(ref string)
	playErr error
	refs    []string
	active  bool
	stops   int
}

func (f *fakePlayback) Play(ctx context.Context, ref string) error {
	f.mu.Lock()
	if f.playErr != nil {
		err := f.playErr
		f.mu.Unlock()
		return err
	}
	f.refs = append(f.refs, ref)
	f.active = true
	onPlay := f.onPlay
	f.mu.Unlock()
	if onPlay != nil {
		onPlay(ref)
	}
	return nil
}

func (f *fakePlayback) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.stops++
}

func (f *fakePlayback) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakePlayback) setOnPlay(fn func(ref string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPlay = fn
}

func (f *fakePlayback) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}

func (f *fakePlayback) played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.refs))
	copy(out, f.refs)
	return out
}

// ─── Harness ───

type harness struct {
	coord    *turn.Coordinator
	backend  *imock.Backend
	stt      *tmock.Provider
	sampler  *fakeSampler
	capture  *fakeCapture
	playback *fakePlayback
	states   chan turn.State
	errs     chan error
	runErr   chan error
	cancel   context.CancelFunc
}

func oneQuestion(audioRef string) []interview.Current {
	return []interview.Current{{
		Index: 0,
		Total: 1,
		Question: &interview.Question{
			ID:       101,
			Text:     "Explain how a mutex differs from a channel.",
			Topic:    "concurrency",
			AudioRef: audioRef,
		},
	}}
}

func newHarness(t *testing.T, questions []interview.Current, tuning config.Turn) *harness {
	t.Helper()

	h := &harness{
		backend:  &imock.Backend{Questions: questions},
		stt:      &tmock.Provider{Texts: []string{"a mutex serializes access"}},
		sampler:  &fakeSampler{},
		capture:  &fakeCapture{},
		playback: &fakePlayback{},
		states:   make(chan turn.State, 64),
		errs:     make(chan error, 64),
		runErr:   make(chan error, 1),
	}
	h.capture.guard = h.playback.Active

	// Default playback backend: finish immediately and report Ended, the way
	// the real controller's watch goroutine would.
	h.playback.onPlay = func(string) {
		h.playback.finish()
		h.coord.OnPlaybackState(playback.StateEnded)
	}

	h.coord = turn.New(
		turn.Config{SessionID: "sess-1", Tuning: tuning},
		turn.Deps{
			Questions:   h.backend,
			Answers:     h.backend,
			Transcriber: h.stt,
			Sampler:     h.sampler,
			Capture:     h.capture,
			Playback:    h.playback,
		},
		turn.WithStateListener(func(s turn.State) { h.states <- s }),
		turn.WithErrorListener(func(err error) { h.errs <- err }),
		turn.WithFetchRetryDelay(20*time.Millisecond),
	)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.runErr <- h.coord.Run(ctx) }()
}

// awaitState consumes transitions until want appears.
func (h *harness) awaitState(t *testing.T, want turn.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v (currently %v)", want, h.coord.State())
		}
	}
}

func (h *harness) awaitError(t *testing.T, target error) error {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-h.errs:
			if target == nil || errors.Is(err, target) {
				return err
			}
		case <-deadline:
			t.Fatalf("timed out waiting for error %v", target)
		}
	}
}

func (h *harness) awaitDone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("coordinator did not exit (state %v)", h.coord.State())
		return nil
	}
}

// speakAndFinish drives one full VAD cycle: a speaking run followed by enough
// silence to trip the debounce, then waits out the hang-over.
func (h *harness) speakAndFinish(t *testing.T) {
	t.Helper()
	h.feedSpeech(t)
	h.feedSilence(t)
}

func (h *harness) feedSpeech(t *testing.T) {
	t.Helper()
	h.sampler.feed(speech, speech)
	h.awaitState(t, turn.StateUserRecording)
}

func (h *harness) feedSilence(t *testing.T) {
	t.Helper()
	h.sampler.feed(silence, silence, silence)
	h.awaitState(t, turn.StateHangoverWait)
}

// ─── Tests ───

func TestRun_FullTurnAutoSubmit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion("/audio/q101.mp3"), testTuning)
	h.run(t)

	h.awaitState(t, turn.StateInterviewerSpeaking)
	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateTranscribing)
	h.awaitState(t, turn.StateSubmitting)
	h.awaitState(t, turn.StateComplete)

	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}

	if got := h.backend.Submitted(); len(got) != 1 || got[0] != "a mutex serializes access" {
		t.Errorf("submitted = %v, want the transcript", got)
	}
	if got := h.playback.played(); len(got) != 1 || got[0] != "/audio/q101.mp3" {
		t.Errorf("played = %v, want the question audio", got)
	}
	if h.capture.Active() {
		t.Error("capture device still held after completion")
	}
	starts, stops := h.sampler.counts()
	if starts != stops {
		t.Errorf("sampler starts=%d stops=%d, want balanced", starts, stops)
	}
	if _, _, violations := h.capture.counts(); violations != 0 {
		t.Errorf("capture was attempted %d times while playback held audio focus", violations)
	}
}

func TestRun_QuestionWithoutAudioSkipsPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	if got := h.playback.played(); len(got) != 0 {
		t.Errorf("playback started for a question with no audio: %v", got)
	}

	h.speakAndFinish(t)
	h.awaitState(t, turn.StateComplete)
	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestRun_PlaybackBlockedStillProceeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion("/audio/q101.mp3"), testTuning)
	h.playback.onPlay = func(string) {
		h.playback.finish()
		h.coord.OnPlaybackState(playback.StateBlocked)
	}
	h.run(t)

	h.awaitState(t, turn.StateInterviewerSpeaking)
	h.awaitError(t, audio.ErrPlaybackBlocked)
	h.awaitState(t, turn.StateListeningForUser)
}

func TestReplayQuestion_AfterBlock(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion("/audio/q101.mp3"), testTuning)
	h.playback.onPlay = func(string) {
		h.playback.finish()
		h.coord.OnPlaybackState(playback.StateBlocked)
	}
	h.run(t)
	h.awaitState(t, turn.StateListeningForUser)

	// The manual trigger replays the same resource; this time it plays out.
	h.playback.setOnPlay(func(string) {
		h.playback.finish()
		h.coord.OnPlaybackState(playback.StateEnded)
	})
	if err := h.coord.ReplayQuestion(context.Background()); err != nil {
		t.Fatalf("ReplayQuestion: %v", err)
	}
	h.awaitState(t, turn.StateInterviewerSpeaking)
	h.awaitState(t, turn.StateListeningForUser)

	if got := h.playback.played(); len(got) != 2 || got[1] != "/audio/q101.mp3" {
		t.Errorf("played = %v, want the same reference twice", got)
	}
}

func TestReplayQuestion_NoAudio(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.run(t)
	h.awaitState(t, turn.StateListeningForUser)

	if err := h.coord.ReplayQuestion(context.Background()); !errors.Is(err, turn.ErrNoQuestionAudio) {
		t.Fatalf("ReplayQuestion = %v, want ErrNoQuestionAudio", err)
	}
}

func TestHangover_CancelledByRenewedSpeech(t *testing.T) {
	t.Parallel()
	tuning := testTuning
	tuning.HangoverMs = 150
	h := newHarness(t, oneQuestion(""), tuning)
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.feedSpeech(t)
	h.feedSilence(t)

	// Speech resumes before the grace timer fires: capture continues.
	h.sampler.feed(speech)
	h.awaitState(t, turn.StateUserRecording)

	time.Sleep(250 * time.Millisecond) // past the original hang-over deadline
	if got := h.coord.State(); got != turn.StateUserRecording {
		t.Fatalf("state = %v after cancelled hang-over, want UserRecording", got)
	}
	if _, stops, _ := h.capture.counts(); stops != 0 {
		t.Error("capture was stopped despite the cancelled hang-over")
	}

	h.feedSilence(t)
	h.awaitState(t, turn.StateComplete)
	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if starts, _, _ := h.capture.counts(); starts != 1 {
		t.Errorf("capture started %d times, want exactly once across the whole turn", starts)
	}
}

func TestEmptyTranscript_NeverSubmitted(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.stt.Texts = []string{"   \n\t  "}
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateTranscribing)
	h.awaitError(t, turn.ErrEmptyTranscript)
	h.awaitState(t, turn.StateListeningForUser)

	if got := h.backend.Submitted(); len(got) != 0 {
		t.Errorf("an empty transcript was submitted: %v", got)
	}
}

func TestManualMode_HoldsDraftForReview(t *testing.T) {
	t.Parallel()
	tuning := testTuning
	tuning.AutoSubmit = false
	h := newHarness(t, oneQuestion(""), tuning)
	h.stt.Texts = []string{"channels communicate by sharing"}
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateTranscribing)
	h.awaitState(t, turn.StateListeningForUser)

	if got := h.coord.Draft(); got != "channels communicate by sharing" {
		t.Fatalf("Draft() = %q, want the held transcript", got)
	}
	if got := h.backend.Submitted(); len(got) != 0 {
		t.Fatalf("manual mode auto-submitted: %v", got)
	}

	if err := h.coord.SubmitText(context.Background(), h.coord.Draft()); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	h.awaitState(t, turn.StateComplete)
	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if got := h.backend.Submitted(); len(got) != 1 || got[0] != "channels communicate by sharing" {
		t.Errorf("submitted = %v", got)
	}
}

func TestSubmitText_EmptyRefused(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.run(t)
	h.awaitState(t, turn.StateListeningForUser)

	if err := h.coord.SubmitText(context.Background(), "   \t "); !errors.Is(err, turn.ErrEmptyTranscript) {
		t.Fatalf("SubmitText = %v, want ErrEmptyTranscript", err)
	}
	if got := h.coord.State(); got != turn.StateListeningForUser {
		t.Errorf("state = %v after refused submit, want unchanged", got)
	}
	if got := h.backend.Submitted(); len(got) != 0 {
		t.Errorf("empty text reached the backend: %v", got)
	}
}

func TestSubmitText_SupersedesInFlightTranscription(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.stt.Block = make(chan struct{})
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateTranscribing)

	// The user types an answer while the upload is still in flight.
	if err := h.coord.SubmitText(context.Background(), "typed instead"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	close(h.stt.Block) // the stale transcript arrives late and must be ignored

	h.awaitState(t, turn.StateComplete)
	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if got := h.backend.Submitted(); len(got) != 1 || got[0] != "typed instead" {
		t.Errorf("submitted = %v, want only the typed answer", got)
	}
}

func TestSubmissionFailure_PreservesDraftNoRetry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.backend.SubmitErrs = map[int]error{0: errors.New("backend exploded")}
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateSubmitting)
	h.awaitError(t, nil)
	h.awaitState(t, turn.StateListeningForUser)

	if got := h.coord.Draft(); got != "a mutex serializes access" {
		t.Fatalf("Draft() = %q, want the transcript preserved for retry", got)
	}

	// Only the one failed attempt went out; nothing was retried on its own.
	time.Sleep(100 * time.Millisecond)
	if got := len(h.backend.Submitted()); got != 1 {
		t.Fatalf("submit attempts = %d, want 1 (no automatic retry)", got)
	}

	// The user retries manually and succeeds.
	if err := h.coord.SubmitText(context.Background(), h.coord.Draft()); err != nil {
		t.Fatalf("SubmitText retry: %v", err)
	}
	h.awaitState(t, turn.StateComplete)
	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestTranscriptionFailure_ReturnsToListening(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.stt.Errs = map[int]error{0: &transcribe.ServiceError{Kind: "server", StatusCode: 500, Detail: "boom"}}
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateTranscribing)
	h.awaitError(t, nil)
	h.awaitState(t, turn.StateListeningForUser)

	if got := h.backend.Submitted(); len(got) != 0 {
		t.Errorf("a failed transcription was submitted: %v", got)
	}
	if h.capture.Active() {
		t.Error("capture device still held after transcription failure")
	}
}

func TestAuthExpired_IsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, testTuning)
	h.backend.CurrentErrs = map[int]error{0: interview.ErrAuthExpired}
	h.run(t)

	err := h.awaitDone(t)
	if !errors.Is(err, interview.ErrAuthExpired) {
		t.Fatalf("Run returned %v, want ErrAuthExpired", err)
	}
}

func TestAuthExpired_DuringTranscriptionIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.stt.Errs = map[int]error{0: &transcribe.ServiceError{Kind: "auth", StatusCode: 401, Detail: "token expired"}}
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)

	err := h.awaitDone(t)
	if !errors.Is(err, interview.ErrAuthExpired) {
		t.Fatalf("Run returned %v, want ErrAuthExpired", err)
	}
	if h.capture.Active() {
		t.Error("capture device still held after fatal exit")
	}
}

func TestQuestionFetchFailure_RetriesThenRecovers(t *testing.T) {
	t.Parallel()
	// The scripted backend consumes one script slot per call, so the retried
	// fetch reads the second slot.
	questions := append(oneQuestion(""), oneQuestion("")...)
	h := newHarness(t, questions, testTuning)
	h.backend.CurrentErrs = map[int]error{0: errors.New("transient network error")}
	h.run(t)

	h.awaitError(t, nil)
	h.awaitState(t, turn.StateListeningForUser)
	if got := h.coord.Question(); got == nil || got.ID != 101 {
		t.Fatalf("Question() = %+v, want the fetched prompt after retry", got)
	}
	if idx, total := h.coord.Progress(); idx != 0 || total != 1 {
		t.Errorf("Progress() = %d/%d, want 0/1", idx, total)
	}
}

func TestTeardownMidRecording_ReleasesEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.feedSpeech(t)

	h.cancel()
	err := h.awaitDone(t)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if h.capture.Active() {
		t.Error("capture device still held after teardown")
	}
	if h.playback.Active() {
		t.Error("playback still active after teardown")
	}
	starts, stops := h.sampler.counts()
	if starts != stops {
		t.Errorf("sampler starts=%d stops=%d, want balanced after teardown", starts, stops)
	}
}

func TestDeviceLost_SurfacesAndResumesListening(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.sampler.lose(audio.ErrDeviceLost)

	h.awaitError(t, audio.ErrDeviceLost)

	// Listening resumes on a fresh sampler stream; the turn state itself
	// never left ListeningForUser, so poll for the re-open instead.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if starts, _ := h.sampler.counts(); starts == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sampler was not restarted after device loss")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateComplete)
	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
}

func TestMultiQuestion_LoopsUntilComplete(t *testing.T) {
	t.Parallel()
	questions := []interview.Current{
		{Index: 0, Total: 2, Question: &interview.Question{ID: 1, Text: "first"}},
		{Index: 1, Total: 2, Question: &interview.Question{ID: 2, Text: "second"}},
	}
	h := newHarness(t, questions, testTuning)
	h.backend.SubmitResults = []interview.SubmitResult{{Completed: false}, {Completed: true}}
	h.stt.Texts = []string{"answer one", "answer two"}
	h.run(t)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateAwaitingQuestion)

	h.awaitState(t, turn.StateListeningForUser)
	h.speakAndFinish(t)
	h.awaitState(t, turn.StateComplete)

	if err := h.awaitDone(t); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if got := h.backend.Submitted(); len(got) != 2 || got[0] != "answer one" || got[1] != "answer two" {
		t.Errorf("submitted = %v", got)
	}
}

func TestRetune_AppliesWithoutRestart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, oneQuestion(""), testTuning)
	h.run(t)
	h.awaitState(t, turn.StateListeningForUser)

	// Raise the threshold above the usual speech level: the old trigger
	// amplitude must no longer start a recording.
	retuned := testTuning
	retuned.SpeechThreshold = 0.9
	h.coord.Retune(retuned)

	// Give the loop a chance to apply the retune, then feed former-speech.
	time.Sleep(50 * time.Millisecond)
	h.sampler.feed(speech, speech, speech)
	time.Sleep(100 * time.Millisecond)
	if got := h.coord.State(); got != turn.StateListeningForUser {
		t.Fatalf("state = %v, want still ListeningForUser under the raised threshold", got)
	}

	// Full-scale input still registers.
	h.sampler.feed(0.95)
	h.awaitState(t, turn.StateUserRecording)
}
