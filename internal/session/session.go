// Package session implements the per-client Session: the owning pipeline
// that ties one client's PCM uploads to one ASR Client handle and one SSE
// subscriber, enforcing the session's ordering and lifecycle rules.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riftcast/streamscribe/internal/assembler"
	"github.com/riftcast/streamscribe/internal/asrclient"
	"github.com/riftcast/streamscribe/internal/types"
)

// inboundItem travels through the bounded inbound queue. finish is an
// explicit sentinel rather than a side-channel signal: it is enqueued like
// any chunk, so it is guaranteed to be consumed after every chunk accepted
// before it.
type inboundItem struct {
	chunk  []byte
	finish bool
}

// Config bounds a Session's queues and timeouts.
type Config struct {
	MaxPendingChunks int
	MaxPendingEvents int
	AcceptTimeout    time.Duration
}

// Session owns the end-to-end pipeline for one client: Assembler, ASR
// Client handle, inbound PCM queue, outbound event channel. All mutation of
// the Assembler and ASR handle happens exclusively on the owning pipeline
// goroutines started by New; accept_chunk/finish/subscribe only touch the
// bounded channels and the small state-machine mutex.
type Session struct {
	id        types.SessionID
	createdAt time.Time
	cfg       Config

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	inbound  chan inboundItem
	outbound chan types.TranscriptEvent

	subscribed atomic.Bool

	asmbl      *assembler.Assembler
	asr        asrclient.Session
	releaseASR func()

	done   chan struct{}
	cancel context.CancelFunc

	closeOutboundOnce sync.Once
}

// New creates a Session and starts its producer/consumer goroutines. asr
// and releaseASR are typically obtained from an asrclient.Pool; the Session
// takes ownership of both and calls releaseASR exactly once, after asr is
// closed, regardless of how the session terminates.
func New(id types.SessionID, profile types.AudioProfile, asr asrclient.Session, releaseASR func(), cfg Config) (*Session, error) {
	asm, err := assembler.New(profile)
	if err != nil {
		return nil, fmt.Errorf("session %s: new assembler: %w", id, err)
	}

	if cfg.MaxPendingChunks <= 0 {
		cfg.MaxPendingChunks = 64
	}
	if cfg.MaxPendingEvents <= 0 {
		cfg.MaxPendingEvents = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	now := time.Now()
	s := &Session{
		id:           id,
		createdAt:    now,
		cfg:          cfg,
		state:        Open,
		lastActivity: now,
		inbound:      make(chan inboundItem, cfg.MaxPendingChunks),
		outbound:     make(chan types.TranscriptEvent, cfg.MaxPendingEvents),
		asmbl:        asm,
		asr:          asr,
		releaseASR:   releaseASR,
		done:         make(chan struct{}),
		cancel:       cancel,
	}

	go s.run(ctx)
	return s, nil
}

// ID returns the session's opaque identifier.
func (s *Session) ID() types.SessionID { return s.id }

// CreatedAt returns the time the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitionTo moves the session to to, the only place s.state is ever
// assigned. Callers must hold s.mu. If from->to is not an allowed edge,
// state is left unchanged and errInvalidTransition is returned so the
// caller can log rather than silently corrupt the state machine.
func (s *Session) transitionTo(to State) error {
	if !canTransition(s.state, to) {
		return errInvalidTransition(s.state, to)
	}
	s.state = to
	return nil
}

// LastActivity returns the time of the most recent accepted chunk or
// received ASR event.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AcceptChunk pushes bytes onto the inbound queue. Valid only while Open.
// Blocks up to cfg.AcceptTimeout for queue space before failing with
// types.ErrBackpressure; the session itself is preserved on that failure.
func (s *Session) AcceptChunk(ctx context.Context, data []byte) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case Finishing:
		return types.ErrSessionFinishing
	case Closed, Failed:
		return types.ErrSessionClosed
	}

	timeout := s.cfg.AcceptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	acceptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case s.inbound <- inboundItem{chunk: data}:
		s.touch()
		return nil
	case <-acceptCtx.Done():
		return types.ErrBackpressure
	case <-s.done:
		return types.ErrSessionClosed
	}
}

// Finish transitions the session to Finishing and enqueues the finish
// sentinel. Valid only while Open; a second call fails with
// types.ErrSessionFinishing or types.ErrSessionClosed.
func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Open {
		state := s.state
		s.mu.Unlock()
		if state == Finishing {
			return types.ErrSessionFinishing
		}
		return types.ErrSessionClosed
	}
	if err := s.transitionTo(Finishing); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	select {
	case s.inbound <- inboundItem{finish: true}:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the session's outbound event channel. Only one
// subscriber may attach for the lifetime of the session.
func (s *Session) Subscribe() (<-chan types.TranscriptEvent, error) {
	if !s.subscribed.CompareAndSwap(false, true) {
		return nil, types.ErrSubscriberAlreadyAttached
	}
	return s.outbound, nil
}

// Close force-terminates the session (idle timeout, max duration exceeded,
// or process shutdown). If the session is still Open or Finishing it is
// moved to Failed and the pipeline goroutines are cancelled; if already
// terminal, Close is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	if err := s.transitionTo(Failed); err != nil {
		slog.Warn("session close: invalid transition", "session_id", s.id, "error", err)
	}
	s.mu.Unlock()
	s.cancel()
}

// Done returns a channel closed once both pipeline goroutines have exited
// and the session has reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the owning pipeline: one producer sub-task drains the inbound
// queue and pushes Frames to the ASR handle; one consumer sub-task drains
// ASR events to the outbound channel. Coordinated with errgroup instead of
// a raw sync.WaitGroup so either side's fatal error cancels its sibling.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.releaseASR()
	defer s.asr.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.produce(gctx) })
	g.Go(func() error { return s.consume(gctx) })

	pipelineErr := g.Wait()
	if pipelineErr != nil && !errors.Is(pipelineErr, context.Canceled) {
		slog.Error("session pipeline ended with error", "session_id", s.id, "error", pipelineErr)
	}

	s.mu.Lock()
	state := s.state
	cancelledExternally := ctx.Err() != nil && state == Failed
	s.mu.Unlock()

	switch {
	case cancelledExternally:
		// Close() already transitioned to Failed before cancelling ctx;
		// fail was never called on this path, so the synthetic terminal
		// event is emitted here instead.
		s.closeOutboundOnce.Do(func() {
			select {
			case s.outbound <- types.TranscriptEvent{Kind: types.TranscriptServerError, Err: fmt.Errorf("%w: session closed by registry", types.ErrAsrClosed)}:
			default:
			}
			close(s.outbound)
		})
	case !state.IsTerminal():
		// The pipeline ended without reaching Closed or Failed: the ASR
		// handle's event channel closed without emitting a terminal
		// transcript. fail transitions to Failed and delivers the
		// terminal event the subscriber is owed instead of leaving the
		// stream silently hanging.
		if pipelineErr == nil {
			pipelineErr = fmt.Errorf("%w: asr events channel closed without a terminal event", types.ErrAsrClosed)
		}
		s.fail(pipelineErr)
	}
}

func (s *Session) produce(ctx context.Context) error {
	for {
		select {
		case item, ok := <-s.inbound:
			if !ok {
				return nil
			}
			if item.finish {
				return s.handleFinish(ctx)
			}
			if err := s.handleChunk(ctx, item.chunk); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) handleChunk(ctx context.Context, chunk []byte) error {
	frames, err := s.asmbl.Push(chunk)
	if err != nil {
		// Input validation errors are handled at the HTTP boundary before
		// reaching accept_chunk; if one surfaces here it does not mutate
		// session state or kill the session.
		slog.Warn("assembler push error", "session_id", s.id, "error", err)
		return nil
	}
	return s.pushFrames(ctx, frames)
}

func (s *Session) handleFinish(ctx context.Context) error {
	frames, err := s.asmbl.Flush()
	if err != nil {
		slog.Warn("assembler flush error", "session_id", s.id, "error", err)
	}
	if err := s.pushFrames(ctx, frames); err != nil {
		return err
	}
	if err := s.asr.Finish(ctx); err != nil {
		return s.fail(fmt.Errorf("asr finish: %w", err))
	}
	return nil
}

func (s *Session) pushFrames(ctx context.Context, frames []types.Frame) error {
	for _, f := range frames {
		if err := s.asr.PushFrame(ctx, f); err != nil {
			return s.fail(fmt.Errorf("asr push_frame: %w", err))
		}
	}
	return nil
}

func (s *Session) consume(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-s.asr.Events():
			if !ok {
				// The ASR handle closed its event stream without ever
				// emitting a terminal transcript. Returning an error here
				// (rather than nil) cancels gctx so produce stops blocking
				// on the inbound queue and run can deliver a terminal
				// event instead of leaving the session hanging.
				return fmt.Errorf("%w: asr events channel closed without a terminal event", types.ErrAsrClosed)
			}
			s.touch()
			select {
			case s.outbound <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
			if ev.Kind == types.TranscriptFinal {
				s.mu.Lock()
				if err := s.transitionTo(Closed); err != nil {
					slog.Warn("session: invalid transition on final event", "session_id", s.id, "error", err)
				}
				s.mu.Unlock()
				s.closeOutboundOnce.Do(func() { close(s.outbound) })
				// Stop produce as well, so run returns even when the
				// Final arrived before any finish sentinel.
				s.cancel()
				return nil
			}
			if ev.Kind == types.TranscriptServerError {
				s.mu.Lock()
				if err := s.transitionTo(Failed); err != nil {
					slog.Warn("session: invalid transition on server error event", "session_id", s.id, "error", err)
				}
				s.mu.Unlock()
				s.closeOutboundOnce.Do(func() { close(s.outbound) })
				return fmt.Errorf("asr reported terminal error: %w", ev.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail transitions the session to Failed and emits a single terminal
// ServerError event: any ASR error kills the session.
func (s *Session) fail(cause error) error {
	s.mu.Lock()
	alreadyTerminal := s.state.IsTerminal()
	if !alreadyTerminal {
		if err := s.transitionTo(Failed); err != nil {
			slog.Warn("session: invalid transition in fail", "session_id", s.id, "error", err)
		}
	}
	s.mu.Unlock()

	if !alreadyTerminal {
		select {
		case s.outbound <- types.TranscriptEvent{Kind: types.TranscriptServerError, Err: cause}:
		default:
		}
		s.closeOutboundOnce.Do(func() { close(s.outbound) })
	}
	return cause
}
