// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the interview session and the local HTTP server,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevice,
// WithQuestionSource, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/health"
	"github.com/parley-labs/parley/internal/observe"
	"github.com/parley-labs/parley/internal/resilience"
	"github.com/parley-labs/parley/internal/server"
	"github.com/parley-labs/parley/internal/turn"
	"github.com/parley-labs/parley/pkg/audio"
	"github.com/parley-labs/parley/pkg/audio/capture"
	amock "github.com/parley-labs/parley/pkg/audio/mock"
	"github.com/parley-labs/parley/pkg/audio/playback"
	paudio "github.com/parley-labs/parley/pkg/audio/portaudio"
	"github.com/parley-labs/parley/pkg/audio/sampler"
	"github.com/parley-labs/parley/pkg/provider/interview"
	"github.com/parley-labs/parley/pkg/provider/transcribe"
)

// App owns all subsystem lifetimes and runs the interview session.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	coord   *turn.Coordinator
	srv     *server.Server
	watcher *config.Watcher

	// Injected or constructed collaborators.
	device      audio.Device
	player      audio.Player
	questions   interview.Source
	answers     interview.Submitter
	transcriber transcribe.Provider
	checkers    []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a microphone device instead of building one from the
// audio backend config.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithPlayer injects a playback backend.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithQuestionSource injects a question source instead of the HTTP client.
func WithQuestionSource(s interview.Source) Option {
	return func(a *App) { a.questions = s }
}

// WithSubmitter injects an answer submitter instead of the HTTP client.
func WithSubmitter(s interview.Submitter) Option {
	return func(a *App) { a.answers = s }
}

// WithTranscriber injects a transcription provider instead of the HTTP
// client. Injected providers are still breaker-guarded and instrumented.
func WithTranscriber(p transcribe.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithMetrics injects a metrics set instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: the backend clients,
// the audio pipeline (sampler, capture, playback), the turn coordinator, and
// the local HTTP server. Use Option functions to inject test doubles for any
// collaborator.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Backend clients ───────────────────────────────────────────────
	if err := a.initBackend(); err != nil {
		return nil, fmt.Errorf("app: init backend: %w", err)
	}

	// ── 2. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 3. Audio pipeline + coordinator ──────────────────────────────────
	a.initCoordinator()

	// ── 4. Local HTTP server ─────────────────────────────────────────────
	a.srv = server.New(a.coord, a.metrics, a.checkers...)

	return a, nil
}

// initBackend builds the interview and transcription clients for any slot
// that was not injected, then layers the breaker and instrumentation.
func (a *App) initBackend() error {
	if a.questions == nil || a.answers == nil {
		client, err := interview.New(a.cfg.API.BaseURL, a.cfg.API.Token)
		if err != nil {
			return err
		}
		if a.questions == nil {
			a.questions = client
		}
		if a.answers == nil {
			a.answers = client
		}
		a.checkers = append(a.checkers, health.Backend(client))
	}

	if a.transcriber == nil {
		stt, err := transcribe.New(a.cfg.API.TranscribeEndpoint(),
			transcribe.WithToken(a.cfg.API.Token),
		)
		if err != nil {
			return err
		}
		a.transcriber = stt
	}

	// Order matters: instrumentation outermost so breaker rejections are
	// recorded as failed transcriptions too.
	a.transcriber = resilience.NewGuardedTranscriber(a.transcriber, resilience.CircuitBreakerConfig{})
	a.transcriber = observe.InstrumentTranscriber(a.transcriber, a.metrics)
	a.answers = observe.InstrumentSubmitter(a.answers, a.metrics)

	return nil
}

// initAudio builds the device and player from the configured backend unless
// doubles were injected.
func (a *App) initAudio() error {
	backend := a.cfg.Audio.Backend
	if backend == "" {
		backend = "portaudio"
	}

	if a.device == nil {
		switch backend {
		case "portaudio":
			a.device = paudio.NewDevice(paudio.WithSampleRate(a.cfg.Audio.SampleRate))
		case "mock":
			a.device = &amock.Device{}
		default:
			return fmt.Errorf("unknown audio backend %q", backend)
		}
	}
	a.checkers = append(a.checkers, health.Microphone(a.device))

	if a.player == nil {
		switch backend {
		case "portaudio":
			resolve := func(ref string) string { return ref }
			if c, ok := a.questions.(*interview.Client); ok {
				resolve = c.ResolveAudioRef
			}
			a.player = paudio.NewPlayer(resolve)
		case "mock":
			a.player = &amock.Player{}
		}
	}

	return nil
}

// initCoordinator assembles the sampler, capture, and playback controllers
// and builds the turn coordinator around them.
func (a *App) initCoordinator() {
	smp := sampler.New(a.device, sampler.WithInterval(a.cfg.Audio.SampleInterval()))

	// The playback state listener and the HTTP state broadcast both refer to
	// fields assigned later in New; by the time either fires, Run has started
	// and the wiring is complete.
	playCtl := playback.New(a.player, playback.WithStateListener(func(st playback.State) {
		a.coord.OnPlaybackState(st)
	}))
	capCtl := capture.New(smp, capture.WithPlaybackGuard(playCtl.Active))

	a.coord = turn.New(
		turn.Config{SessionID: a.cfg.API.SessionID, Tuning: a.cfg.Turn},
		turn.Deps{
			Questions:   a.questions,
			Answers:     a.answers,
			Transcriber: a.transcriber,
			Sampler:     smp,
			Capture:     capCtl,
			Playback:    playCtl,
		},
		turn.WithMetrics(a.metrics),
		turn.WithStateListener(func(turn.State) { a.srv.Broadcast() }),
		turn.WithErrorListener(func(err error) {
			slog.Warn("turn error", "err", err)
		}),
	)
}

// WatchConfig starts a file watcher on path that live-applies turn tuning
// changes to the running coordinator. Other sections require a restart; the
// watcher logs when they change.
func (a *App) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		if config.TurnChanged(old, new) {
			a.coord.Retune(new.Turn)
		}
	})
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the turn coordinator and, when configured, the local HTTP
// server. It blocks until ctx is cancelled or the session fails fatally.
// A completed interview keeps the HTTP surface up so the final state stays
// inspectable; cancel ctx to exit.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error { return a.srv.Run(ctx, addr) })
	}

	g.Go(func() error {
		err := a.coord.Run(ctx)
		if err != nil {
			return fmt.Errorf("interview session: %w", err)
		}
		slog.Info("interview session finished", "state", a.coord.State().String())
		return nil
	})

	slog.Info("app running",
		"session", a.cfg.API.SessionID,
		"backend", a.cfg.API.BaseURL,
		"audio", a.cfg.Audio.Backend,
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down auxiliary resources (config watcher and any registered
// closers). It respects the context deadline: if ctx expires before all
// closers finish, the remainder are skipped and the context error returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// Coordinator exposes the turn coordinator, chiefly for tests.
func (a *App) Coordinator() *turn.Coordinator { return a.coord }
