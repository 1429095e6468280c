// Package app wires the streaming transcription backend's components —
// config, ASR client, Session Registry, HTTP Boundary, health checks, and
// observability — into one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/riftcast/streamscribe/internal/asrclient"
	"github.com/riftcast/streamscribe/internal/asrclient/wsasr"
	"github.com/riftcast/streamscribe/internal/config"
	"github.com/riftcast/streamscribe/internal/health"
	"github.com/riftcast/streamscribe/internal/httpapi"
	"github.com/riftcast/streamscribe/internal/observe"
	"github.com/riftcast/streamscribe/internal/registry"
	"github.com/riftcast/streamscribe/internal/session"
	"github.com/riftcast/streamscribe/internal/types"
)

// App owns every long-lived component of the streaming transcription
// backend and implements its startup and shutdown sequence.
type App struct {
	cfg     atomic.Pointer[config.Config]
	metrics *observe.Metrics
	reg     *registry.Registry
	pool    *asrclient.Pool
	srv     *httpapi.Server
	httpSrv *http.Server
}

// New builds an App from cfg. It opens no network connections beyond
// constructing the ASR provider binding; the HTTP listener itself starts in
// Run.
func New(cfg *config.Config, metrics *observe.Metrics) (*App, error) {
	provider, err := wsasr.New(wsasr.Config{
		Endpoint:         cfg.Asr.Endpoint,
		HeartbeatTimeout: millis(cfg.Asr.HeartbeatTimeoutMs),
		IdlePing:         millis(cfg.Asr.IdlePingMs),
		MaxPendingFrames: cfg.Limits.MaxPendingFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("app: new asr provider: %w", err)
	}

	pool := asrclient.NewPool(provider, asrclient.PoolConfig{
		Size:           cfg.Asr.PoolSize,
		OpenMaxRetries: cfg.Asr.OpenMaxRetries,
	})

	profile := cfg.AudioProfile()
	sessionCfg := session.Config{
		MaxPendingChunks: cfg.Limits.MaxPendingChunks,
		MaxPendingEvents: cfg.Limits.MaxPendingEvents,
		AcceptTimeout:    millis(cfg.Session.AcceptTimeoutMs),
	}

	reg := registry.New(registry.Config{
		MaxSessions:   cfg.Session.MaxSessions,
		SweepInterval: millis(cfg.Session.SweepIntervalMs),
		IdleTimeout:   millis(cfg.Session.IdleTimeoutMs),
		MaxSessionAge: millis(cfg.Session.MaxSessionDurationMs),
		TerminalGrace: millis(cfg.Session.TerminalGraceMs),
	})

	factory := func(id types.SessionID) (*session.Session, error) {
		acquireCtx, cancel := context.WithTimeout(context.Background(), millis(cfg.Asr.PoolAcquireTimeoutMs))
		defer cancel()

		asrSess, release, err := pool.Acquire(acquireCtx, asrclient.StreamParams{
			SessionID:  id,
			Language:   cfg.Asr.Language,
			SampleRate: profile.TargetSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAsrUnavailable, err)
		}

		sess, err := session.New(id, profile, asrSess, release, sessionCfg)
		if err != nil {
			release()
			return nil, err
		}
		if metrics != nil {
			metrics.SessionsCreated.Add(context.Background(), 1)
			metrics.ActiveSessions.Add(context.Background(), 1)
			go func() {
				<-sess.Done()
				metrics.ActiveSessions.Add(context.Background(), -1)
			}()
		}
		return sess, nil
	}

	httpSrv := httpapi.New(reg, factory, httpapi.Config{
		RoutePrefix:       cfg.Server.RoutePrefix,
		AutoCreateOnChunk: cfg.AutoCreateOnChunk(),
		AcceptTimeout:     millis(cfg.Session.AcceptTimeoutMs),
		SSEKeepalive:      millis(cfg.SSE.KeepaliveMs),
		Metrics:           metrics,
	})

	mux := httpSrv.Mux()
	healthHandler := health.New(health.Checker{
		Name: "registry",
		Check: func(ctx context.Context) error {
			return nil
		},
	})
	healthHandler.Register(mux)

	var handler http.Handler = mux
	if metrics != nil {
		handler = observe.Middleware(metrics)(mux)
	}

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	a := &App{
		metrics: metrics,
		reg:     reg,
		pool:    pool,
		srv:     httpSrv,
		httpSrv: &http.Server{Addr: listenAddr, Handler: handler},
	}
	a.cfg.Store(cfg)
	return a, nil
}

// ApplyConfig retunes the live session and HTTP boundary knobs from a
// reloaded configuration. Structural components (ASR pool, provider,
// listener address, route registration) are fixed for the process
// lifetime and are not affected.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.reg.UpdateTunables(registry.Config{
		MaxSessions:   cfg.Session.MaxSessions,
		SweepInterval: millis(cfg.Session.SweepIntervalMs),
		IdleTimeout:   millis(cfg.Session.IdleTimeoutMs),
		MaxSessionAge: millis(cfg.Session.MaxSessionDurationMs),
		TerminalGrace: millis(cfg.Session.TerminalGraceMs),
	})
	a.srv.UpdateTunables(httpapi.Config{
		AutoCreateOnChunk: cfg.AutoCreateOnChunk(),
		AcceptTimeout:     millis(cfg.Session.AcceptTimeoutMs),
		SSEKeepalive:      millis(cfg.SSE.KeepaliveMs),
	})
	a.cfg.Store(cfg)
	slog.Info("streamscribe: configuration reloaded")
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// stops accepting new work, allows shutdown_grace_ms for in-flight sessions
// to finish gracefully, and force-closes whatever remains.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("streamscribe: listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown drains active sessions gracefully before force-closing the rest.
func (a *App) Shutdown() error {
	slog.Info("streamscribe: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("streamscribe: http server shutdown error", "error", err)
	}

	a.reg.FinishAll(context.Background())

	grace := millis(a.cfg.Load().Session.ShutdownGraceMs)
	if grace > 0 {
		time.Sleep(grace)
	}

	a.reg.Shutdown(context.Background())
	a.reg.Stop()

	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
