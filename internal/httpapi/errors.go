// Package httpapi implements the HTTP Boundary: the three session endpoints
// (POST /chunk, POST /finish, GET /events) that translate HTTP requests into
// Session and Registry operations and stream transcript events back over
// Server-Sent Events.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/riftcast/streamscribe/internal/types"
)

// statusFor maps an error from the session/registry/assembler layer to an
// HTTP status code. Unrecognized errors map to 500 and are never echoed to
// the client with detail. Neither statusFor nor writeError logs them; only
// the SSE write path logs an internal error with the session id (see
// logInternal).
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidPcmAlignment),
		errors.Is(err, types.ErrEmptyChunk):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnknownSession),
		errors.Is(err, types.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, types.ErrSessionFinishing),
		errors.Is(err, types.ErrSubscriberAlreadyAttached):
		return http.StatusConflict
	case errors.Is(err, types.ErrBackpressure),
		errors.Is(err, types.ErrAsrBackpressureExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrCapacityExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status code and writes a minimal plain-text body
// naming the error kind. Internal errors never include err's message.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if status == http.StatusInternalServerError {
		_, _ = w.Write([]byte("internal error\n"))
		return
	}
	_, _ = w.Write([]byte(errorKind(err) + "\n"))
}

// errorKind returns the taxonomy name for err, for inclusion in 4xx/5xx
// bodies and SSE error payloads.
func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidPcmAlignment):
		return "InvalidPcmAlignment"
	case errors.Is(err, types.ErrEmptyChunk):
		return "EmptyChunk"
	case errors.Is(err, types.ErrBackpressure):
		return "Backpressure"
	case errors.Is(err, types.ErrUnknownSession):
		return "UnknownSession"
	case errors.Is(err, types.ErrSessionClosed):
		return "SessionClosed"
	case errors.Is(err, types.ErrSessionFinishing):
		return "SessionFinishing"
	case errors.Is(err, types.ErrCapacityExceeded):
		return "CapacityExceeded"
	case errors.Is(err, types.ErrSubscriberAlreadyAttached):
		return "SubscriberAlreadyAttached"
	case errors.Is(err, types.ErrAsrUnavailable):
		return "AsrUnavailable"
	case errors.Is(err, types.ErrAsrRejected):
		return "AsrRejected"
	case errors.Is(err, types.ErrAsrClosed):
		return "AsrClosed"
	case errors.Is(err, types.ErrAsrBackpressureExceeded):
		return "AsrBackpressureExceeded"
	default:
		return "InternalError"
	}
}
