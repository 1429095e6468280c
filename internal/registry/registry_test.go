package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riftcast/streamscribe/internal/asrclient"
	"github.com/riftcast/streamscribe/internal/asrclient/mock"
	"github.com/riftcast/streamscribe/internal/registry"
	"github.com/riftcast/streamscribe/internal/session"
	"github.com/riftcast/streamscribe/internal/types"
)

func testProfile() types.AudioProfile {
	return types.AudioProfile{
		InputSampleRate:  16000,
		InputChannels:    1,
		TargetSampleRate: 16000,
		TargetChannels:   1,
		FrameDuration:    20 * time.Millisecond,
	}
}

func newFactory(t *testing.T, provider *mock.Provider) registry.Factory {
	t.Helper()
	return func(id types.SessionID) (*session.Session, error) {
		asrSess, err := provider.Open(context.Background(), asrclient.StreamParams{SessionID: id})
		if err != nil {
			return nil, err
		}
		return session.New(id, testProfile(), asrSess, func() {}, session.Config{
			MaxPendingChunks: 8,
			MaxPendingEvents: 8,
			AcceptTimeout:    time.Second,
		})
	}
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	r := registry.New(registry.Config{MaxSessions: 2, SweepInterval: time.Hour})
	defer r.Stop()

	provider := mock.New()
	factory := newFactory(t, provider)

	s1, err := r.GetOrCreate("sess-1", factory)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := r.GetOrCreate("sess-1", factory)
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected GetOrCreate to return the same session for a repeated id")
	}
	if len(provider.Sessions) != 1 {
		t.Fatalf("expected exactly 1 asr session opened, got %d", len(provider.Sessions))
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
}

func TestRegistry_CapacityExceeded(t *testing.T) {
	r := registry.New(registry.Config{MaxSessions: 1, SweepInterval: time.Hour})
	defer r.Stop()

	provider := mock.New()
	factory := newFactory(t, provider)

	if _, err := r.GetOrCreate("sess-1", factory); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := r.GetOrCreate("sess-2", factory); !errors.Is(err, types.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := registry.New(registry.Config{SweepInterval: time.Hour})
	defer r.Stop()

	if _, err := r.Get("nope"); !errors.Is(err, types.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestRegistry_RemoveFreesCapacity(t *testing.T) {
	r := registry.New(registry.Config{MaxSessions: 1, SweepInterval: time.Hour})
	defer r.Stop()

	provider := mock.New()
	factory := newFactory(t, provider)

	if _, err := r.GetOrCreate("sess-1", factory); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	r.Remove("sess-1")
	if r.Count() != 0 {
		t.Fatalf("expected count 0 after Remove, got %d", r.Count())
	}
	if _, err := r.GetOrCreate("sess-2", factory); err != nil {
		t.Fatalf("GetOrCreate after Remove: %v", err)
	}
}

func TestRegistry_SweepRemovesExpiredTerminalSession(t *testing.T) {
	r := registry.New(registry.Config{
		MaxSessions:   4,
		SweepInterval: 20 * time.Millisecond,
		IdleTimeout:   time.Hour,
		TerminalGrace: 10 * time.Millisecond,
	})
	defer r.Stop()

	provider := mock.New()
	factory := newFactory(t, provider)

	_, err := r.GetOrCreate("sess-1", factory)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	provider.Sessions[0].EmitFinal("done", 0)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := r.Get("sess-1"); errors.Is(err, types.ErrUnknownSession) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for terminal session to be swept")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRegistry_SweepClosesIdleSession(t *testing.T) {
	r := registry.New(registry.Config{
		MaxSessions:   4,
		SweepInterval: 10 * time.Millisecond,
		IdleTimeout:   20 * time.Millisecond,
		TerminalGrace: time.Hour,
	})
	defer r.Stop()

	provider := mock.New()
	factory := newFactory(t, provider)

	s, err := r.GetOrCreate("sess-1", factory)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for s.State() != session.Finishing && s.State() != session.Closed && s.State() != session.Failed {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for idle session to finish, state = %v", s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
