package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/riftcast/streamscribe/internal/observe"
	"github.com/riftcast/streamscribe/internal/registry"
	"github.com/riftcast/streamscribe/internal/session"
	"github.com/riftcast/streamscribe/internal/types"
)

// maxChunkBytes bounds a single /chunk request body to guard against an
// unbounded read; generous enough for several seconds of raw PCM at typical
// client sample rates.
const maxChunkBytes = 8 << 20 // 8 MiB

// Config bounds the HTTP Boundary's own behavior, independent of Session/
// Registry internals.
type Config struct {
	// RoutePrefix is the URL prefix under which the three endpoints are
	// mounted, e.g. "/http/v1/sessions". Must not have a trailing slash.
	RoutePrefix string

	// AutoCreateOnChunk controls implicit session creation on first /chunk.
	AutoCreateOnChunk bool

	// AcceptTimeout bounds how long /chunk waits for inbound queue space.
	AcceptTimeout time.Duration

	// SSEKeepalive is the heartbeat comment interval on /events when no
	// event has fired.
	SSEKeepalive time.Duration

	// Metrics is optional; when nil, metric recording is skipped.
	Metrics *observe.Metrics
}

// Server implements the HTTP boundary for session ingest, finish, and
// transcript delivery. It owns no session state itself — it translates
// requests into Registry/Session operations.
//
// autoCreate, acceptTimeout, and sseKeepalive are held in atomics rather
// than a Config struct so a config reload can retune them via
// UpdateTunables while handlers are in flight. routePrefix and metrics are
// fixed at construction: the former is baked into the registered routes,
// the latter is read directly by the handlers and only set by New.
type Server struct {
	reg     *registry.Registry
	factory registry.Factory

	routePrefix string
	metrics     *observe.Metrics

	autoCreate    atomic.Bool
	acceptTimeout atomic.Int64 // nanoseconds
	sseKeepalive  atomic.Int64 // nanoseconds
}

// New creates a Server. factory is passed through to registry.GetOrCreate on
// every implicit or explicit session creation.
func New(reg *registry.Registry, factory registry.Factory, cfg Config) *Server {
	if cfg.RoutePrefix == "" {
		cfg.RoutePrefix = "/http/v1/sessions"
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = 2 * time.Second
	}
	if cfg.SSEKeepalive <= 0 {
		cfg.SSEKeepalive = 15 * time.Second
	}
	s := &Server{reg: reg, factory: factory, routePrefix: cfg.RoutePrefix, metrics: cfg.Metrics}
	s.autoCreate.Store(cfg.AutoCreateOnChunk)
	s.acceptTimeout.Store(int64(cfg.AcceptTimeout))
	s.sseKeepalive.Store(int64(cfg.SSEKeepalive))
	return s
}

// UpdateTunables atomically applies new auto-create, accept-timeout, and
// SSE keepalive settings, e.g. from a reloaded configuration. RoutePrefix
// and Metrics are fixed at construction.
func (s *Server) UpdateTunables(cfg Config) {
	s.autoCreate.Store(cfg.AutoCreateOnChunk)
	if cfg.AcceptTimeout > 0 {
		s.acceptTimeout.Store(int64(cfg.AcceptTimeout))
	}
	if cfg.SSEKeepalive > 0 {
		s.sseKeepalive.Store(int64(cfg.SSEKeepalive))
	}
}

// Mux builds an *http.ServeMux with the three session endpoints registered
// under the configured route prefix. The mux is not wrapped in any
// middleware here; internal/app wraps it in observe.Middleware.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.routePrefix+"/{id}/chunk", s.handleChunk)
	mux.HandleFunc("POST "+s.routePrefix+"/{id}/finish", s.handleFinish)
	mux.HandleFunc("GET "+s.routePrefix+"/{id}/events", s.handleEvents)
	return mux
}

// sessionID extracts and validates the {id} path value: a non-empty opaque
// string no longer than types.MaxSessionIDBytes.
func sessionID(r *http.Request) (types.SessionID, error) {
	raw := r.PathValue("id")
	if raw == "" || len(raw) > types.MaxSessionIDBytes {
		return "", fmt.Errorf("%w: invalid session id", types.ErrUnknownSession)
	}
	return types.SessionID(raw), nil
}

// lookupOrCreate resolves id to a Session, honoring AutoCreateOnChunk.
func (s *Server) lookupOrCreate(id types.SessionID) (*session.Session, error) {
	if !s.autoCreate.Load() {
		return s.reg.Get(id)
	}
	sess, err := s.reg.GetOrCreate(id, s.factory)
	if err != nil {
		if s.metrics != nil && errors.Is(err, types.ErrCapacityExceeded) {
			s.metrics.SessionsRejected.Add(context.Background(), 1)
		}
		return nil, err
	}
	return sess, nil
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxChunkBytes+1)
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", types.ErrInternal, err))
		return
	}

	// Input validation happens before any session lookup/creation so a
	// rejected first chunk never creates a session.
	if len(data) == 0 {
		writeError(w, types.ErrEmptyChunk)
		return
	}
	if len(data)%2 != 0 {
		writeError(w, types.ErrInvalidPcmAlignment)
		return
	}

	sess, err := s.lookupOrCreate(id)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.acceptTimeout.Load()))
	defer cancel()

	if err := sess.AcceptChunk(ctx, data); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	// /finish returns 204 optimistically as soon as the Finishing sentinel
	// is enqueued; the subscriber observes the terminal event later over
	// SSE. See DESIGN.md.
	if err := sess.Finish(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// logInternal logs an internal-only error with session id, never exposing
// detail to the client.
func logInternal(id types.SessionID, op string, err error) {
	slog.Error("httpapi: internal error", "session_id", id, "op", op, "error", err)
}
