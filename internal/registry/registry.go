// Package registry implements the process-wide Session Registry: a
// sharded, concurrent map from session id to Session, with capacity
// enforcement and a background sweeper for idle and abandoned-terminal
// sessions.
package registry

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riftcast/streamscribe/internal/session"
	"github.com/riftcast/streamscribe/internal/types"
)

const shardCount = 16

// Factory creates a new Open Session for id. Called by GetOrCreate after
// the Registry's capacity check, while holding the write lock of id's shard.
type Factory func(id types.SessionID) (*session.Session, error)

// Config bounds Registry capacity and sweep behavior.
type Config struct {
	MaxSessions   int
	SweepInterval time.Duration
	IdleTimeout   time.Duration
	MaxSessionAge time.Duration
	TerminalGrace time.Duration
}

// Registry is a read-mostly sharded map of live sessions, generalizing the
// single-mutex in-memory store pattern used elsewhere in this codebase to N
// shards so that reads across different sessions never contend.
//
// MaxSessions, IdleTimeout, MaxSessionAge, and TerminalGrace are held in
// atomics rather than the Config they were built from, so a config reload
// can retune them via UpdateTunables without disturbing the sweeper
// goroutine or any in-flight shard access. SweepInterval is fixed at
// construction: changing a running ticker's period isn't worth the
// complexity for a knob that only affects sweep latency.
type Registry struct {
	sweepInterval time.Duration

	maxSessions     atomic.Int64
	idleTimeoutNs   atomic.Int64
	maxSessionAgeNs atomic.Int64
	terminalGraceNs atomic.Int64

	shards [shardCount]*shard

	mu    sync.Mutex // guards count only
	count int

	sweepDeadlines *deadlineHeap
	sweepMu        sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup
}

type shard struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*entry
}

type entry struct {
	sess           *session.Session
	terminalSince  time.Time
	hasTerminal    bool
}

// New creates a Registry and starts its background sweeper.
func New(cfg Config) *Registry {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	r := &Registry{
		sweepInterval:  cfg.SweepInterval,
		sweepDeadlines: newDeadlineHeap(),
		stop:           make(chan struct{}),
	}
	r.maxSessions.Store(int64(cfg.MaxSessions))
	r.idleTimeoutNs.Store(int64(cfg.IdleTimeout))
	r.maxSessionAgeNs.Store(int64(cfg.MaxSessionAge))
	r.terminalGraceNs.Store(int64(cfg.TerminalGrace))
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[types.SessionID]*entry)}
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// UpdateTunables atomically applies new capacity and lifetime knobs, e.g.
// from a reloaded configuration. SweepInterval is not adjustable live; see
// the Registry doc comment.
func (r *Registry) UpdateTunables(cfg Config) {
	r.maxSessions.Store(int64(cfg.MaxSessions))
	r.idleTimeoutNs.Store(int64(cfg.IdleTimeout))
	r.maxSessionAgeNs.Store(int64(cfg.MaxSessionAge))
	r.terminalGraceNs.Store(int64(cfg.TerminalGrace))
}

// Stop halts the background sweeper. It does not close any sessions.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Registry) shardFor(id types.SessionID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%shardCount]
}

// GetOrCreate returns the existing session for id, or creates one via
// create if absent. Returns types.ErrCapacityExceeded if the live session
// count is already at max_sessions.
func (r *Registry) GetOrCreate(id types.SessionID, create Factory) (*session.Session, error) {
	sh := r.shardFor(id)

	sh.mu.RLock()
	if e, ok := sh.sessions[id]; ok {
		sh.mu.RUnlock()
		return e.sess, nil
	}
	sh.mu.RUnlock()

	r.mu.Lock()
	if max := r.maxSessions.Load(); max > 0 && int64(r.count) >= max {
		r.mu.Unlock()
		return nil, types.ErrCapacityExceeded
	}
	r.count++
	r.mu.Unlock()

	sh.mu.Lock()
	if e, ok := sh.sessions[id]; ok {
		sh.mu.Unlock()
		r.mu.Lock()
		r.count--
		r.mu.Unlock()
		return e.sess, nil
	}

	sess, err := create(id)
	if err != nil {
		sh.mu.Unlock()
		r.mu.Lock()
		r.count--
		r.mu.Unlock()
		return nil, err
	}
	sh.sessions[id] = &entry{sess: sess}
	sh.mu.Unlock()

	return sess, nil
}

// Get returns the session for id, or types.ErrUnknownSession if absent.
func (r *Registry) Get(id types.SessionID) (*session.Session, error) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.sessions[id]
	if !ok {
		return nil, types.ErrUnknownSession
	}
	return e.sess, nil
}

// Remove deletes the mapping for id, decrementing the live count. Safe to
// call even if id is absent.
func (r *Registry) Remove(id types.SessionID) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	_, existed := sh.sessions[id]
	delete(sh.sessions, id)
	sh.mu.Unlock()

	if existed {
		r.mu.Lock()
		r.count--
		r.mu.Unlock()
	}
}

// Count returns the number of live (Open+Finishing+terminal-not-yet-swept)
// sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Registry) idleTimeout() time.Duration {
	if d := r.idleTimeoutNs.Load(); d > 0 {
		return time.Duration(d)
	}
	return 60 * time.Second
}

// FinishAll calls Finish on every live session, best-effort, as the first
// half of the process shutdown sequence: it asks each session to drain its
// pending frames and close its ASR handle gracefully within
// shutdown_grace_ms, rather than cutting it off outright. Errors (a session
// already Finishing or terminal) are ignored.
func (r *Registry) FinishAll(ctx context.Context) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		sessions := make([]*session.Session, 0, len(sh.sessions))
		for _, e := range sh.sessions {
			sessions = append(sessions, e.sess)
		}
		sh.mu.RUnlock()
		for _, s := range sessions {
			_ = s.Finish(ctx)
		}
	}
}

// Shutdown marks every live session Failed: the force-close half of the
// shutdown sequence; callers are expected to have already attempted a
// graceful finish during shutdown_grace_ms via FinishAll.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		sessions := make([]*session.Session, 0, len(sh.sessions))
		for _, e := range sh.sessions {
			sessions = append(sessions, e.sess)
		}
		sh.mu.RUnlock()
		for _, s := range sessions {
			s.Close()
		}
	}
}
