package asrclient

import (
	"context"
	"fmt"

	"github.com/riftcast/streamscribe/internal/resilience"
)

// Pool bounds the number of ASR sessions opened concurrently across all
// Sessions, via a buffered-channel semaphore acquired FIFO: it caps
// concurrent opens without sharing a handle — each acquirer still opens
// and owns its own [Session] exclusively.
//
// A [resilience.CircuitBreaker] wraps the underlying provider's Open calls
// so that a remote outage trips the breaker once, instead of every
// concurrently-waiting session retrying into the same failure.
type Pool struct {
	provider Provider
	slots    chan struct{}
	breaker  *resilience.CircuitBreaker
	maxRetries int
}

// PoolConfig configures a [Pool].
type PoolConfig struct {
	// Size is the number of concurrently open ASR sessions permitted.
	Size int

	// OpenMaxRetries bounds OpenWithRetry's backoff loop.
	OpenMaxRetries int
}

// NewPool creates a Pool wrapping provider.
func NewPool(provider Provider, cfg PoolConfig) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = 1
	}
	return &Pool{
		provider: provider,
		slots:    make(chan struct{}, size),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "asr-pool",
		}),
		maxRetries: cfg.OpenMaxRetries,
	}
}

// Acquire blocks until a dial slot is free or ctx is done, opens a new
// session via OpenWithRetry, and returns it along with a release function
// the caller must invoke exactly once (typically via defer) once the slot
// is no longer needed — usually right after the session itself closes.
func (p *Pool) Acquire(ctx context.Context, params StreamParams) (Session, func(), error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	}

	release := func() { <-p.slots }

	var sess Session
	err := p.breaker.Execute(func() error {
		var openErr error
		sess, openErr = OpenWithRetry(ctx, p.provider, params, p.maxRetries)
		return openErr
	})
	if err != nil {
		release()
		return nil, func() {}, fmt.Errorf("asr pool: acquire: %w", err)
	}

	return sess, release, nil
}
