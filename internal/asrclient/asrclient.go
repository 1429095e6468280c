// Package asrclient defines the abstract contract between a Session and the
// remote ASR service, and provides the reconnect/backoff and pooling
// machinery shared by any concrete transport binding.
//
// The package intentionally imports no transport library: a concrete binding
// (e.g. internal/asrclient/wsasr) implements [Provider] and [Session]
// without asrclient depending on it in return, so the core stays agnostic to
// the transport choice.
package asrclient

import (
	"context"

	"github.com/riftcast/streamscribe/internal/types"
)

// StreamParams configures a single streaming ASR session.
type StreamParams struct {
	// SessionID is passed through for logging/metrics correlation only.
	SessionID types.SessionID

	// Language is a BCP-47 tag, or "auto".
	Language string

	// SampleRate is the frame sample rate the session will push (the
	// Assembler's target rate).
	SampleRate int
}

// Provider opens streaming ASR sessions against a remote service.
type Provider interface {
	// Open establishes a new streaming session. Returns types.ErrAsrUnavailable
	// on transport failure or types.ErrAsrRejected on a server-side refusal;
	// callers apply their own retry policy around transport failures (see
	// [OpenWithRetry]).
	Open(ctx context.Context, params StreamParams) (Session, error)
}

// Session is one live streaming ASR session, owned exclusively by a single
// caller. It is not safe for concurrent use except where noted.
type Session interface {
	// PushFrame enqueues one frame for transmission. Returns
	// types.ErrAsrClosed if the remote session has ended, or
	// types.ErrAsrBackpressureExceeded if the local send buffer is full.
	PushFrame(ctx context.Context, frame types.Frame) error

	// Finish signals end-of-stream. After Finish, Events will eventually
	// yield a TranscriptFinal (or TranscriptServerError) and the channel
	// closes.
	Finish(ctx context.Context) error

	// Events returns the channel of events produced by the remote service,
	// in receipt order. The channel closes when the session terminates.
	Events() <-chan types.TranscriptEvent

	// Close releases the session's resources immediately. Safe to call more
	// than once and safe to call after Finish.
	Close() error
}
