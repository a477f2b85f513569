// Package playback owns the single active "interviewer voice" playback
// instance.
//
// A Controller plays at most one resource at a time: Play stops and replaces
// whatever is currently active, reports Loading → Playing → Ended
// transitions, and reports Blocked when the backend refuses autoplay — in
// which case no audio is emitted but the turn can still proceed via a manual
// replay trigger. Completion (Ended or Blocked) is the signal that releases
// voice-activity arming to the coordinator.
package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/parley-labs/parley/pkg/audio"
)

// State is the interviewer voice status. It is reset per question.
type State int

const (
	// StateIdle means nothing has been played yet or the last playback was
	// stopped externally.
	StateIdle State = iota

	// StateLoading means the resource is being resolved and buffered.
	StateLoading

	// StatePlaying means audio is actively streaming to the output device.
	StatePlaying

	// StateBlocked means the backend refused to start output under the
	// current policy. Terminal for the attempt; a manual replay may retry.
	StateBlocked

	// StateEnded means playback reached the end of the resource. Terminal.
	StateEnded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateBlocked:
		return "blocked"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a state that releases the audio focus:
// voice-activity detection may be armed only while playback is Idle, Ended,
// or Blocked.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateEnded || s == StateBlocked
}

// Controller sequences playback of question audio through a [audio.Player]
// backend. All methods are safe for concurrent use.
type Controller struct {
	player   audio.Player
	notifyCh chan State

	mu      sync.Mutex
	state   State
	current audio.Playback
	gen     uint64 // incremented per Play/Stop to invalidate stale watchers
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithStateListener registers fn to be invoked on every state transition.
// Transitions are delivered in order from a single dispatch goroutine; fn
// must not block for long — post into an event queue instead of doing work
// inline.
func WithStateListener(fn func(State)) Option {
	return func(c *Controller) {
		c.notifyCh = make(chan State, 16)
		go func() {
			for s := range c.notifyCh {
				fn(s)
			}
		}()
	}
}

// New creates a Controller over the given playback backend.
func New(player audio.Player, opts ...Option) *Controller {
	c := &Controller{player: player, state: StateIdle}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether playback currently holds audio focus (Loading or
// Playing). Used as the capture controller's playback guard.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateLoading || c.state == StatePlaying
}

// Play begins streaming playback of the resource identified by ref, stopping
// and replacing any currently active playback first — a question's voice
// audio never overlaps a previous question's lingering playback.
//
// On an autoplay refusal the state becomes Blocked and Play returns nil: the
// blocked condition is reported through the state listener and the turn
// proceeds without audio. Any other backend failure is returned after the
// state has been reset to Idle.
func (c *Controller) Play(ctx context.Context, ref string) error {
	c.mu.Lock()
	c.stopCurrentLocked()
	c.gen++
	gen := c.gen
	c.setStateLocked(StateLoading)
	c.mu.Unlock()

	pb, err := c.player.Start(ctx, ref)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// Superseded while the backend was starting: release the late handle.
		if pb != nil {
			_ = pb.Stop()
		}
		return nil
	}
	if errors.Is(err, audio.ErrPlaybackBlocked) {
		c.setStateLocked(StateBlocked)
		return nil
	}
	if err != nil {
		c.setStateLocked(StateIdle)
		return err
	}

	c.current = pb
	c.setStateLocked(StatePlaying)
	go c.watch(pb, gen)
	return nil
}

// Stop pauses and releases the active playback handle. It is idempotent:
// stopping an idle controller is a no-op. The state returns to Idle, which
// also releases audio focus.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.stopCurrentLocked()
	if c.state != StateIdle {
		c.setStateLocked(StateIdle)
	}
}

// watch waits for the backend to finish and records the Ended transition,
// unless this playback was superseded in the meantime.
func (c *Controller) watch(pb audio.Playback, gen uint64) {
	<-pb.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.current = nil
	c.setStateLocked(StateEnded)
}

// stopCurrentLocked releases the active handle without touching state.
// Callers must hold c.mu.
func (c *Controller) stopCurrentLocked() {
	if c.current != nil {
		_ = c.current.Stop()
		c.current = nil
	}
}

// setStateLocked records a transition and queues it for the listener.
// Callers must hold c.mu.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.notifyCh != nil {
		select {
		case c.notifyCh <- s:
		default:
			// Listener is far behind; drop rather than stall the audio path.
		}
	}
}
