// Package turn implements the turn-taking / audio-focus coordinator: the
// state machine that decides, at every moment, whether the system is playing
// question audio, listening for speech, actively recording, or waiting on a
// transcription or submission round-trip.
//
// The coordinator is a single logical actor. Device callbacks, timer
// expiries, and network completions are posted onto one event queue and
// applied by the [Coordinator.Run] loop; turn state is never mutated from a
// callback. This is what makes the mutual-exclusion and ordering guarantees
// checkable: at most one of playback and recording ever holds audio focus,
// voice-activity detection is armed strictly after playback ends, and a
// clip's upload is issued strictly after capture has fully finalized.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/pkg/audio"
	"github.com/parley-labs/parley/pkg/audio/playback"
	"github.com/parley-labs/parley/pkg/provider/interview"
	"github.com/parley-labs/parley/pkg/provider/transcribe"
	"github.com/parley-labs/parley/pkg/vad"
)

// Coordinator API errors.
var (
	// ErrEmptyTranscript indicates a submission was attempted with no usable
	// text. Empty answers are never sent to the backend.
	ErrEmptyTranscript = errors.New("turn: transcript is empty")

	// ErrSubmissionInFlight indicates a manual submission was refused because
	// one is already on the wire. Retries are user-initiated, never stacked.
	ErrSubmissionInFlight = errors.New("turn: a submission is already in progress")

	// ErrNoQuestionAudio indicates a replay was requested for a question that
	// has no voice audio.
	ErrNoQuestionAudio = errors.New("turn: current question has no audio")

	// ErrInterviewComplete indicates the coordinator has reached its terminal
	// state and accepts no further input.
	ErrInterviewComplete = errors.New("turn: interview already complete")

	// ErrNotRunning indicates the coordinator's event loop has exited.
	ErrNotRunning = errors.New("turn: coordinator is not running")
)

// fetchRetryDelay is how long the coordinator waits before re-issuing a
// failed question fetch. Submissions are never retried automatically; fetches
// are safe to retry because they are read-only.
const fetchRetryDelay = 2 * time.Second

// SampleSource produces the periodic amplitude measurements that feed
// voice-activity detection. Implemented by the sampler package.
type SampleSource interface {
	Start(ctx context.Context) (<-chan audio.ActivitySample, error)
	Stop()
	Err() error
}

// CaptureController owns the recording session on the sampler's shared
// microphone stream. Implemented by the capture package.
type CaptureController interface {
	Start(ctx context.Context) error
	Stop() (*audio.Clip, error)
	Active() bool
}

// PlaybackController owns the interviewer voice playback. Implemented by the
// playback package; its state transitions reach the coordinator through
// [Coordinator.OnPlaybackState].
type PlaybackController interface {
	Play(ctx context.Context, ref string) error
	Stop()
	Active() bool
}

// Metrics records coordinator activity. Implemented by internal/observe; the
// zero default is a no-op.
type Metrics interface {
	Transition(ctx context.Context, from, to State)
	Failure(ctx context.Context, kind string)
	Clip(ctx context.Context, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) Transition(context.Context, State, State) {}
func (nopMetrics) Failure(context.Context, string)          {}
func (nopMetrics) Clip(context.Context, time.Duration)      {}

// Deps are the coordinator's collaborators. All fields are required.
type Deps struct {
	Questions   interview.Source
	Answers     interview.Submitter
	Transcriber transcribe.Provider
	Sampler     SampleSource
	Capture     CaptureController
	Playback    PlaybackController
}

// Config holds the coordinator's per-session settings.
type Config struct {
	// SessionID is the interview session being conducted.
	SessionID string

	// Tuning holds the turn-taking knobs (thresholds, debounce, hang-over,
	// auto-submit). Reloadable at runtime via [Coordinator.Retune].
	Tuning config.Turn
}

// Coordinator is the central turn-taking state machine.
//
// Construct with [New], then call [Coordinator.Run] exactly once. The public
// methods other than Run are safe to call from any goroutine; they post onto
// the event queue rather than touching state directly.
type Coordinator struct {
	sessionID string
	deps      Deps
	metrics   Metrics

	stateListener func(State)
	errListener   func(error)
	retryDelay    time.Duration

	events chan event
	done   chan struct{}

	// Loop-owned. Touched only from Run's goroutine.
	det        *vad.Detector
	timer      Timer
	hangover   time.Duration
	autoSubmit bool
	samples    <-chan audio.ActivitySample

	// Snapshot fields, readable from other goroutines under mu.
	mu       sync.Mutex
	state    State
	draft    string
	question *interview.Question
	index    int
	total    int
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithMetrics installs a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithStateListener registers fn to be invoked on every turn-state
// transition, from the coordinator's own goroutine. fn must not block.
func WithStateListener(fn func(State)) Option {
	return func(c *Coordinator) { c.stateListener = fn }
}

// WithErrorListener registers fn to be invoked for every non-fatal failure
// surfaced to the user-visible error channel.
func WithErrorListener(fn func(error)) Option {
	return func(c *Coordinator) { c.errListener = fn }
}

// WithFetchRetryDelay overrides the question-fetch retry delay.
func WithFetchRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// New creates a Coordinator. It does not start the event loop; call
// [Coordinator.Run].
func New(cfg Config, deps Deps, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessionID:  cfg.SessionID,
		deps:       deps,
		metrics:    nopMetrics{},
		retryDelay: fetchRetryDelay,
		events:     make(chan event, 64),
		done:       make(chan struct{}),
		det:        vad.New(vadConfig(cfg.Tuning)),
		hangover:   cfg.Tuning.Hangover(),
		autoSubmit: cfg.Tuning.AutoSubmit,
		state:      StateAwaitingQuestion,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func vadConfig(t config.Turn) vad.Config {
	return vad.Config{
		SpeechThreshold:  t.SpeechThreshold,
		SilenceThreshold: t.SilenceThreshold,
		DebounceCount:    t.DebounceCount,
	}
}

// State returns the current turn phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Draft returns the transcript held for manual review, or "" when none.
func (c *Coordinator) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Question returns a copy of the active prompt, or nil before the first
// fetch completes.
func (c *Coordinator) Question() *interview.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.question == nil {
		return nil
	}
	q := *c.question
	return &q
}

// Progress returns the candidate's position: 0-based index and total count.
func (c *Coordinator) Progress() (index, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index, c.total
}

// OnPlaybackState feeds a playback transition into the event queue. Wire it
// as the playback controller's state listener.
func (c *Coordinator) OnPlaybackState(s playback.State) {
	c.post(evPlaybackState{state: s})
}

// SubmitText submits text as the answer to the current question, bypassing
// the VAD and capture path. An empty or whitespace-only text is refused with
// [ErrEmptyTranscript] and never reaches the backend. Any in-progress
// recording or playback is released first.
//
// SubmitText returns once the coordinator has accepted or refused the
// submission; the network round-trip itself completes asynchronously.
func (c *Coordinator) SubmitText(ctx context.Context, text string) error {
	return c.request(ctx, func(reply chan error) event {
		return evManualSubmit{text: text, reply: reply}
	})
}

// ReplayQuestion restarts playback of the current question's voice audio.
// Used when autoplay was blocked by policy and the user triggers playback
// manually.
func (c *Coordinator) ReplayQuestion(ctx context.Context) error {
	return c.request(ctx, func(reply chan error) event {
		return evReplay{reply: reply}
	})
}

// Retune applies new turn-taking tuning without restarting the session.
// Intended to be wired to the config watcher's reload callback.
func (c *Coordinator) Retune(t config.Turn) {
	c.post(evRetune{tuning: t})
}

// request posts a command event and waits for the loop's decision.
func (c *Coordinator) request(ctx context.Context, build func(chan error) event) error {
	reply := make(chan error, 1)
	select {
	case c.events <- build(reply):
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers ev to the loop, dropping it if the loop has exited.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run executes the coordinator's event loop until the interview completes,
// the context is cancelled, or a fatal error occurs. It returns nil on
// completion and an error wrapping [interview.ErrAuthExpired] when the
// session's credentials are rejected — that failure forces exit to
// re-authentication rather than a resumable state.
//
// Run must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.teardown()

	c.fetchQuestion(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s, ok := <-c.samples:
			if !ok {
				c.onSamplerDown(ctx)
				continue
			}
			c.handleSample(ctx, s)

		case ev := <-c.events:
			err, final := c.handle(ctx, ev)
			if final {
				return err
			}
		}
	}
}

// handle applies one event. final reports that the loop must exit with err
// (nil on normal completion).
func (c *Coordinator) handle(ctx context.Context, ev event) (err error, final bool) {
	switch ev := ev.(type) {
	case evQuestionResult:
		return c.onQuestionResult(ctx, ev)
	case evFetchQuestion:
		if c.state == StateAwaitingQuestion {
			c.fetchQuestion(ctx)
		}
	case evPlaybackState:
		c.onPlaybackState(ctx, ev.state)
	case evPlayFailed:
		c.onPlayFailed(ctx, ev)
	case evTimerFired:
		c.onHangoverFired(ctx, ev.seq)
	case evTranscriptResult:
		return c.onTranscriptResult(ctx, ev)
	case evSubmitResult:
		return c.onSubmitResult(ctx, ev)
	case evManualSubmit:
		c.onManualSubmit(ctx, ev)
	case evReplay:
		c.onReplay(ctx, ev)
	case evRetune:
		c.onRetune(ev.tuning)
	}
	return nil, false
}

// ─── Question flow ───

func (c *Coordinator) fetchQuestion(ctx context.Context) {
	go func() {
		cur, err := c.deps.Questions.Current(ctx, c.sessionID)
		c.post(evQuestionResult{cur: cur, err: err})
	}()
}

func (c *Coordinator) onQuestionResult(ctx context.Context, ev evQuestionResult) (error, bool) {
	if c.state != StateAwaitingQuestion {
		return nil, false
	}
	if ev.err != nil {
		if errors.Is(ev.err, interview.ErrAuthExpired) {
			return fmt.Errorf("fetching question: %w", ev.err), true
		}
		c.report(ctx, "question_fetch", fmt.Errorf("fetching question: %w", ev.err))
		time.AfterFunc(c.retryDelay, func() { c.post(evFetchQuestion{}) })
		return nil, false
	}
	if ev.cur.Done {
		c.setState(ctx, StateComplete)
		return nil, true
	}
	if ev.cur.Question == nil {
		c.report(ctx, "question_fetch", errors.New("backend returned neither a question nor done"))
		time.AfterFunc(c.retryDelay, func() { c.post(evFetchQuestion{}) })
		return nil, false
	}

	q := ev.cur.Question
	c.mu.Lock()
	c.question = q
	c.index = ev.cur.Index
	c.total = ev.cur.Total
	c.draft = ""
	c.mu.Unlock()
	slog.Info("question received",
		"question_id", q.ID,
		"index", ev.cur.Index,
		"total", ev.cur.Total,
		"has_audio", q.AudioRef != "",
	)

	if q.AudioRef != "" {
		c.setState(ctx, StateInterviewerSpeaking)
		c.startPlayback(ctx, q.ID, q.AudioRef)
	} else {
		c.startListening(ctx)
	}
	return nil, false
}

// ─── Playback flow ───

func (c *Coordinator) startPlayback(ctx context.Context, questionID int, ref string) {
	go func() {
		if err := c.deps.Playback.Play(ctx, ref); err != nil {
			c.post(evPlayFailed{questionID: questionID, err: err})
		}
	}()
}

func (c *Coordinator) onPlaybackState(ctx context.Context, s playback.State) {
	if c.state != StateInterviewerSpeaking {
		return
	}
	switch s {
	case playback.StateEnded:
		c.startListening(ctx)
	case playback.StateBlocked:
		// No audio was emitted, but the turn proceeds; the question can be
		// replayed manually via ReplayQuestion.
		slog.Warn("question audio blocked by autoplay policy", "question_id", c.questionID())
		c.report(ctx, "playback_blocked", audio.ErrPlaybackBlocked)
		c.startListening(ctx)
	}
}

func (c *Coordinator) onPlayFailed(ctx context.Context, ev evPlayFailed) {
	if c.state != StateInterviewerSpeaking || ev.questionID != c.questionID() {
		return
	}
	c.report(ctx, "playback", fmt.Errorf("playing question audio: %w", ev.err))
	c.startListening(ctx)
}

// ─── Listening and capture flow ───

// startListening arms voice-activity detection. Playback must have released
// audio focus before this is called.
func (c *Coordinator) startListening(ctx context.Context) {
	// Arm before announcing the state so anyone reacting to the transition
	// observes a live sampler.
	err := c.armVAD(ctx)
	c.setState(ctx, StateListeningForUser)
	if err != nil {
		c.report(ctx, "microphone", fmt.Errorf("arming voice detection: %w", err))
	}
}

func (c *Coordinator) armVAD(ctx context.Context) error {
	if c.samples == nil {
		ch, err := c.deps.Sampler.Start(ctx)
		if err != nil {
			return err
		}
		c.samples = ch
	}
	c.det.Arm()
	return nil
}

func (c *Coordinator) disarmVAD() {
	c.det.Disarm()
	if c.samples != nil {
		c.deps.Sampler.Stop()
		c.samples = nil
	}
}

func (c *Coordinator) handleSample(ctx context.Context, s audio.ActivitySample) {
	switch c.det.Process(s.Level) {
	case vad.EdgeSpeechStart:
		c.onSpeechStart(ctx)
	case vad.EdgeSpeechEnd:
		c.onSpeechEnd(ctx)
	}
}

func (c *Coordinator) onSpeechStart(ctx context.Context) {
	switch c.state {
	case StateListeningForUser:
		if err := c.deps.Capture.Start(ctx); err != nil {
			// Refused or failed: stay listening, surface the condition. A
			// failed Start leaves the shared stream untouched.
			c.report(ctx, "capture_start", fmt.Errorf("starting capture: %w", err))
			return
		}
		c.setState(ctx, StateUserRecording)

	case StateHangoverWait:
		// Renewed speech before the grace timer fired: capture continues
		// uninterrupted.
		c.timer.Cancel()
		c.setState(ctx, StateUserRecording)
	}
}

func (c *Coordinator) onSpeechEnd(ctx context.Context) {
	if c.state != StateUserRecording {
		return
	}
	c.setState(ctx, StateHangoverWait)
	c.timer.Arm(c.hangover, func(seq uint64) {
		c.post(evTimerFired{seq: seq})
	})
}

func (c *Coordinator) onHangoverFired(ctx context.Context, seq uint64) {
	if c.state != StateHangoverWait || seq != c.timer.Seq() {
		return
	}

	// Finalize the clip before the sampler releases the shared stream.
	clip, err := c.deps.Capture.Stop()
	c.disarmVAD()
	if err != nil {
		c.report(ctx, "capture_stop", fmt.Errorf("finalizing clip: %w", err))
		c.startListening(ctx)
		return
	}
	if clip == nil || len(clip.Data) == 0 {
		c.report(ctx, "capture_stop", errors.New("capture produced no audio"))
		c.startListening(ctx)
		return
	}
	clip.SessionID = c.sessionID
	clip.QuestionID = c.questionID()
	c.metrics.Clip(ctx, clip.Duration)

	c.setState(ctx, StateTranscribing)
	slog.Info("clip finalized",
		"question_id", clip.QuestionID,
		"bytes", len(clip.Data),
		"duration", clip.Duration,
	)
	go func(qid int, clip *audio.Clip) {
		text, err := c.deps.Transcriber.Transcribe(ctx, &transcribe.Clip{
			Data:     clip.Data,
			MIMEType: clip.MIMEType,
		})
		c.post(evTranscriptResult{questionID: qid, text: text, err: err})
	}(clip.QuestionID, clip)
}

// ─── Transcription and submission flow ───

func (c *Coordinator) onTranscriptResult(ctx context.Context, ev evTranscriptResult) (error, bool) {
	if c.state != StateTranscribing || ev.questionID != c.questionID() {
		// The coordinator has moved on; the late result is ignored.
		slog.Debug("discarding stale transcript", "question_id", ev.questionID)
		return nil, false
	}

	if ev.err != nil {
		var se *transcribe.ServiceError
		if errors.As(ev.err, &se) && se.Kind == "auth" {
			return fmt.Errorf("transcribing answer: %w: %w", interview.ErrAuthExpired, ev.err), true
		}
		if errors.Is(ev.err, transcribe.ErrEmptyAudio) {
			c.report(ctx, "empty_transcript", fmt.Errorf("%w: %w", ErrEmptyTranscript, ev.err))
		} else {
			c.report(ctx, "transcription", fmt.Errorf("transcribing answer: %w", ev.err))
		}
		c.startListening(ctx)
		return nil, false
	}

	text := strings.TrimSpace(ev.text)
	if text == "" {
		c.report(ctx, "empty_transcript", ErrEmptyTranscript)
		c.startListening(ctx)
		return nil, false
	}

	if c.autoSubmit {
		c.beginSubmit(ctx, text)
		return nil, false
	}

	// Manual mode: hold the transcript for review and keep listening. A new
	// speaking run records a replacement answer; SubmitText sends this one.
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	slog.Info("transcript held for review", "question_id", ev.questionID, "chars", len(text))
	c.startListening(ctx)
	return nil, false
}

func (c *Coordinator) beginSubmit(ctx context.Context, text string) {
	// Hold the text as the draft until the backend accepts it, so a failed
	// submission leaves the answer editable and retryable.
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()

	c.setState(ctx, StateSubmitting)
	qid := c.questionID()
	go func() {
		res, err := c.deps.Answers.SubmitAnswer(ctx, c.sessionID, text)
		c.post(evSubmitResult{questionID: qid, res: res, err: err})
	}()
}

func (c *Coordinator) onSubmitResult(ctx context.Context, ev evSubmitResult) (error, bool) {
	if c.state != StateSubmitting || ev.questionID != c.questionID() {
		slog.Debug("discarding stale submission result", "question_id", ev.questionID)
		return nil, false
	}

	if ev.err != nil {
		if errors.Is(ev.err, interview.ErrAuthExpired) {
			return fmt.Errorf("submitting answer: %w", ev.err), true
		}
		var ve *interview.ValidationError
		kind := "submission"
		if errors.As(ev.err, &ve) {
			kind = "validation"
		}
		// The draft survives a failed submission so the user can edit and
		// retry; nothing is resent automatically.
		c.report(ctx, kind, fmt.Errorf("submitting answer: %w", ev.err))
		c.startListening(ctx)
		return nil, false
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()

	if ev.res.Completed {
		slog.Info("interview complete", "session_id", c.sessionID)
		c.setState(ctx, StateComplete)
		return nil, true
	}
	c.setState(ctx, StateAwaitingQuestion)
	c.fetchQuestion(ctx)
	return nil, false
}

// ─── User-initiated commands ───

func (c *Coordinator) onManualSubmit(ctx context.Context, ev evManualSubmit) {
	text := strings.TrimSpace(ev.text)
	if text == "" {
		ev.reply <- ErrEmptyTranscript
		return
	}
	switch c.state {
	case StateComplete:
		ev.reply <- ErrInterviewComplete
		return
	case StateSubmitting:
		ev.reply <- ErrSubmissionInFlight
		return
	}

	// Bypassing the VAD/capture path: whatever audio activity exists is
	// released first. A clip mid-capture is discarded in favor of the text.
	c.releaseAudio()
	ev.reply <- nil
	c.beginSubmit(ctx, text)
}

func (c *Coordinator) onReplay(ctx context.Context, ev evReplay) {
	q := c.Question()
	switch {
	case c.state == StateComplete:
		ev.reply <- ErrInterviewComplete
		return
	case c.state == StateTranscribing || c.state == StateSubmitting:
		ev.reply <- ErrSubmissionInFlight
		return
	case q == nil || q.AudioRef == "":
		ev.reply <- ErrNoQuestionAudio
		return
	}

	c.releaseAudio()
	ev.reply <- nil
	c.setState(ctx, StateInterviewerSpeaking)
	c.startPlayback(ctx, q.ID, q.AudioRef)
}

func (c *Coordinator) onRetune(t config.Turn) {
	armed := c.det.Armed()
	c.det = vad.New(vadConfig(t))
	if armed {
		c.det.Arm()
	}
	c.hangover = t.Hangover()
	c.autoSubmit = t.AutoSubmit
	slog.Info("turn tuning reloaded",
		"speech_threshold", t.SpeechThreshold,
		"debounce_count", t.DebounceCount,
		"hangover", t.Hangover(),
		"auto_submit", t.AutoSubmit,
	)
}

// ─── Failure and teardown ───

// onSamplerDown handles the sample channel closing underneath an armed
// detector: the microphone was lost mid-stream.
func (c *Coordinator) onSamplerDown(ctx context.Context) {
	c.samples = nil
	err := c.deps.Sampler.Err()
	if err == nil {
		// Clean shutdown of the sampler (context cancelled); nothing to do.
		return
	}

	c.report(ctx, "device_lost", fmt.Errorf("microphone lost: %w", err))
	c.timer.Cancel()
	c.det.Disarm()
	if _, stopErr := c.deps.Capture.Stop(); stopErr != nil {
		slog.Warn("releasing capture after device loss", "err", stopErr)
	}

	switch c.state {
	case StateListeningForUser, StateUserRecording, StateHangoverWait:
		// Try to resume listening; the device may come back (e.g. a USB
		// microphone re-enumerating).
		c.startListening(ctx)
	}
}

// releaseAudio tears down everything holding or about to hold audio focus.
// Ordering matters: the capture device is released first, then playback,
// then pending timers are cleared, so no dangling device handle survives.
func (c *Coordinator) releaseAudio() {
	if _, err := c.deps.Capture.Stop(); err != nil {
		slog.Warn("releasing capture", "err", err)
	}
	c.deps.Playback.Stop()
	c.timer.Cancel()
	c.disarmVAD()
}

// teardown runs on every Run exit path.
func (c *Coordinator) teardown() {
	c.releaseAudio()
}

func (c *Coordinator) questionID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.question == nil {
		return 0
	}
	return c.question.ID
}

func (c *Coordinator) setState(ctx context.Context, to State) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()

	slog.Debug("turn state", "from", from, "to", to)
	c.metrics.Transition(ctx, from, to)
	if c.stateListener != nil {
		c.stateListener(to)
	}
}

func (c *Coordinator) report(ctx context.Context, kind string, err error) {
	slog.Warn("turn error", "kind", kind, "err", err)
	c.metrics.Failure(ctx, kind)
	if c.errListener != nil {
		c.errListener(err)
	}
}
