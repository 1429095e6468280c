package asrclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riftcast/streamscribe/internal/types"
)

// Default backoff parameters for OpenWithRetry, mirroring the session
// reconnector's defaults in the voice-pipeline code this package is derived
// from.
const (
	defaultOpenMaxRetries = 3
	defaultOpenBackoff    = 500 * time.Millisecond
	defaultOpenMaxBackoff = 10 * time.Second
)

// OpenWithRetry calls provider.Open, retrying transport failures
// (types.ErrAsrUnavailable) with exponential backoff up to maxRetries
// times after the first attempt (maxRetries+1 attempts in total). A
// server-side refusal (types.ErrAsrRejected) is not retried: it is returned
// immediately, since only transport errors during open are worth retrying.
func OpenWithRetry(ctx context.Context, provider Provider, params StreamParams, maxRetries int) (Session, error) {
	if maxRetries <= 0 {
		maxRetries = defaultOpenMaxRetries
	}
	maxAttempts := maxRetries + 1
	backoff := defaultOpenBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sess, err := provider.Open(ctx, params)
		if err == nil {
			return sess, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		slog.Warn("asr open attempt failed",
			"session_id", params.SessionID,
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > defaultOpenMaxBackoff {
			backoff = defaultOpenMaxBackoff
		}
	}

	return nil, fmt.Errorf("asr open: exhausted %d retries: %w", maxRetries, lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, types.ErrAsrUnavailable)
}
