// Package vad implements energy-based voice activity detection with a
// hysteresis/debounce policy tuned for conversational turn-taking.
//
// The detector is synchronous by design: [Detector.Process] consumes one
// amplitude sample and returns immediately with the edge (if any) that the
// sample caused. This makes it suitable for a single-threaded event loop that
// interleaves samples with device and timer events, and keeps every state
// transition deterministic and testable.
//
// Debouncing is applied on the silence side only. Speech registers on the
// first above-threshold sample so the recorder starts without perceptible
// lag, while short silent gaps (breaths, mid-sentence pauses) are absorbed
// by requiring a run of consecutive below-threshold samples before the
// speaking state ends.
//
// A Detector is not safe for concurrent use; it is owned by the event loop
// that feeds it.
package vad

// Default tuning. Thresholds are on the normalized [0, 1] amplitude scale;
// 0.08 corresponds to roughly 20 on an 8-bit loudness scale. The debounce
// count assumes the 100 ms sample cadence, giving ~1 s of silence before a
// turn ends. All of these are configuration, not contract — see
// [Config].
const (
	DefaultSpeechThreshold = 0.08
	DefaultDebounceCount   = 10
)

// SpeechState is the detector's debounced belief about the speaker.
type SpeechState int

const (
	// Silent means no speech is currently believed to be in progress.
	Silent SpeechState = iota

	// Speaking means an utterance is in progress.
	Speaking
)

// String returns the human-readable name of the state.
func (s SpeechState) String() string {
	switch s {
	case Silent:
		return "silent"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Edge is the result of processing one sample. Edges are strictly
// edge-triggered: an edge fires exactly once per state transition, never once
// per sample.
type Edge int

const (
	// EdgeNone means the sample caused no state transition.
	EdgeNone Edge = iota

	// EdgeSpeechStart fires on the transition Silent → Speaking.
	EdgeSpeechStart

	// EdgeSpeechEnd fires on the transition Speaking → Silent, after the
	// silence debounce is satisfied.
	EdgeSpeechEnd
)

// String returns the human-readable name of the edge.
func (e Edge) String() string {
	switch e {
	case EdgeSpeechStart:
		return "speech_start"
	case EdgeSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Config holds the tuning parameters for a [Detector]. Zero-value fields are
// replaced with package defaults.
type Config struct {
	// SpeechThreshold is the normalized amplitude above which a sample counts
	// as voice. Range (0, 1]. Default: [DefaultSpeechThreshold].
	SpeechThreshold float64

	// SilenceThreshold is the normalized amplitude at or below which a sample
	// counts as silence while speaking. Must be ≤ SpeechThreshold. When zero
	// it defaults to SpeechThreshold (no hysteresis band).
	SilenceThreshold float64

	// DebounceCount is the number of consecutive silent samples required to
	// end a speaking run. Default: [DefaultDebounceCount].
	DebounceCount int
}

// Detector turns a stream of amplitude samples into edge-triggered
// speech-start / speech-end events.
//
// The detector must be armed before it reports anything: Process on a
// disarmed detector always returns [EdgeNone]. Disarm clears all internal
// counters so a re-arm starts from a clean Silent state.
type Detector struct {
	speechThreshold  float64
	silenceThreshold float64
	debounceCount    int

	armed        bool
	state        SpeechState
	silenceCount int
}

// New creates a Detector with the given configuration. The detector starts
// disarmed.
func New(cfg Config) *Detector {
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		cfg.SilenceThreshold = cfg.SpeechThreshold
	}
	if cfg.DebounceCount <= 0 {
		cfg.DebounceCount = DefaultDebounceCount
	}
	return &Detector{
		speechThreshold:  cfg.SpeechThreshold,
		silenceThreshold: cfg.SilenceThreshold,
		debounceCount:    cfg.DebounceCount,
	}
}

// Arm begins sample consumption. Arming an already-armed detector is a
// no-op: the current state and counters are preserved.
func (d *Detector) Arm() {
	if d.armed {
		return
	}
	d.armed = true
	d.state = Silent
	d.silenceCount = 0
}

// Disarm stops sample consumption and clears all internal counters. It is
// always safe to call, including on a detector that was never armed and
// during teardown.
func (d *Detector) Disarm() {
	d.armed = false
	d.state = Silent
	d.silenceCount = 0
}

// Armed reports whether the detector is currently consuming samples.
func (d *Detector) Armed() bool { return d.armed }

// State returns the detector's current debounced belief.
func (d *Detector) State() SpeechState { return d.state }

// Process consumes one normalized amplitude level and returns the edge it
// caused, if any. A disarmed detector ignores the sample and returns
// [EdgeNone].
func (d *Detector) Process(level float64) Edge {
	if !d.armed {
		return EdgeNone
	}

	switch d.state {
	case Silent:
		if level > d.speechThreshold {
			d.state = Speaking
			d.silenceCount = 0
			return EdgeSpeechStart
		}

	case Speaking:
		if level > d.silenceThreshold {
			// Voice continues: any in-threshold sample resets the debounce.
			d.silenceCount = 0
			return EdgeNone
		}
		d.silenceCount++
		if d.silenceCount >= d.debounceCount {
			d.state = Silent
			d.silenceCount = 0
			return EdgeSpeechEnd
		}
	}
	return EdgeNone
}
