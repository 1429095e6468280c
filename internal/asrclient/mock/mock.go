// Package mock provides an in-memory asrclient.Provider/Session test double
// that never touches the network, for use by session and httpapi tests.
package mock

import (
	"context"
	"sync"

	"github.com/riftcast/streamscribe/internal/asrclient"
	"github.com/riftcast/streamscribe/internal/types"
)

// Provider is a test double implementing asrclient.Provider. Each Open call
// produces a new *Session recorded in Sessions for later inspection, unless
// OpenErr is set.
type Provider struct {
	mu       sync.Mutex
	OpenErr  error
	Sessions []*Session
}

func New() *Provider { return &Provider{} }

func (p *Provider) Open(ctx context.Context, params asrclient.StreamParams) (asrclient.Session, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	s := &Session{
		events: make(chan types.TranscriptEvent, 64),
		params: params,
	}
	p.mu.Lock()
	p.Sessions = append(p.Sessions, s)
	p.mu.Unlock()
	return s, nil
}

// Session is a test double implementing asrclient.Session. Pushed frames are
// recorded in Pushed; tests drive the event stream directly via Emit and
// EmitFinal/EmitError.
type Session struct {
	mu       sync.Mutex
	params   asrclient.StreamParams
	events   chan types.TranscriptEvent
	Pushed   []types.Frame
	finished bool
	closed   bool
	PushErr  error
}

func (s *Session) PushFrame(ctx context.Context, frame types.Frame) error {
	if s.PushErr != nil {
		return s.PushErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrAsrClosed
	}
	s.Pushed = append(s.Pushed, frame)
	return nil
}

func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	return nil
}

func (s *Session) Events() <-chan types.TranscriptEvent { return s.events }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Emit pushes a partial transcript event onto the session's event channel.
func (s *Session) Emit(ev types.TranscriptEvent) {
	s.events <- ev
}

// EmitFinal pushes a terminal Final event; callers should not Emit afterward.
func (s *Session) EmitFinal(text string, seq uint64) {
	s.events <- types.TranscriptEvent{Kind: types.TranscriptFinal, Text: text, Seq: seq}
}

// EmitError pushes a terminal ServerError event; callers should not Emit afterward.
func (s *Session) EmitError(err error, seq uint64) {
	s.events <- types.TranscriptEvent{Kind: types.TranscriptServerError, Err: err, Seq: seq}
}
