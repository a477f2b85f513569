// Package server exposes the interview session over HTTP.
//
// The handler surface is small: a JSON snapshot of the current turn
// (`GET /api/state`), manual answer submission and question replay
// (`POST /api/answer`, `POST /api/replay`), a live turn-state feed over
// WebSocket (`/ws/state`), and the operational endpoints /metrics, /healthz
// and /readyz. Every route runs through [observe.Middleware] for tracing,
// request metrics, and completion logs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-labs/parley/internal/health"
	"github.com/parley-labs/parley/internal/observe"
	"github.com/parley-labs/parley/internal/turn"
	"github.com/parley-labs/parley/pkg/provider/interview"
)

// shutdownTimeout bounds graceful HTTP shutdown once the run context ends.
const shutdownTimeout = 5 * time.Second

// writeTimeout bounds a single WebSocket push so one stalled client cannot
// block the broadcast.
const writeTimeout = 5 * time.Second

// InterviewSession is the slice of the turn coordinator the HTTP layer
// needs. Satisfied by [*turn.Coordinator].
type InterviewSession interface {
	State() turn.State
	Draft() string
	Question() *interview.Question
	Progress() (index, total int)
	SubmitText(ctx context.Context, text string) error
	ReplayQuestion(ctx context.Context) error
}

// Server serves the interview session API and the operational endpoints.
type Server struct {
	session InterviewSession
	metrics *observe.Metrics
	healthH *health.Handler

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a Server around the given session. The checkers back /readyz.
func New(session InterviewSession, m *observe.Metrics, checkers ...health.Checker) *Server {
	return &Server{
		session: session,
		metrics: m,
		healthH: health.New(checkers...),
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthH.Healthz)
	mux.HandleFunc("GET /readyz", s.healthH.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/replay", s.handleReplay)
	mux.HandleFunc("/ws/state", s.handleStateFeed)

	return observe.Middleware(s.metrics)(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("http server listening", "addr", addr)

	select {
	case <-ctx.Done():
		s.closeConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ─── Session API ─────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.session.SubmitText(r.Context(), req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
	case errors.Is(err, turn.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, turn.ErrSubmissionInFlight),
		errors.Is(err, turn.ErrInterviewComplete):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, turn.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	err := s.session.ReplayQuestion(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, statusResponse{Status: "replaying"})
	case errors.Is(err, turn.ErrNoQuestionAudio):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, turn.ErrSubmissionInFlight),
		errors.Is(err, turn.ErrInterviewComplete):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, turn.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ─── State feed ──────────────────────────────────────────────────────────────

// handleStateFeed upgrades to WebSocket and streams turn-state snapshots. The
// client receives the current snapshot on connect and a new one on every
// state transition. The feed is write-only; client frames are discarded.
func (s *Server) handleStateFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.metrics.StateClients.Add(r.Context(), 1)
	slog.Info("state feed client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.metrics.StateClients.Add(context.Background(), -1)
		slog.Info("state feed client disconnected", "remote", r.RemoteAddr)
	}()

	// CloseRead discards inbound frames and cancels the returned context when
	// the peer goes away.
	ctx := conn.CloseRead(r.Context())

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = wsjson.Write(writeCtx, conn, s.snapshot())
	cancel()
	if err != nil {
		return
	}

	<-ctx.Done()
}

// Broadcast pushes the current snapshot to every connected state-feed client.
// Wire it to the coordinator's state listener.
func (s *Server) Broadcast() {
	snap := s.snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := wsjson.Write(ctx, c, snap); err != nil {
				slog.Debug("state feed write failed", "err", err)
			}
		}(conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.conns, conn)
	}
}

func (s *Server) snapshot() stateSnapshot {
	index, total := s.session.Progress()
	snap := stateSnapshot{
		Type:  "state",
		State: s.session.State().String(),
		Draft: s.session.Draft(),
		Index: index,
		Total: total,
	}
	if q := s.session.Question(); q != nil {
		snap.Question = &questionView{
			ID:         q.ID,
			Text:       q.Text,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
			HasAudio:   q.AudioRef != "",
		}
	}
	return snap
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
