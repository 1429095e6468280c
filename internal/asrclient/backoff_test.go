package asrclient_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/riftcast/streamscribe/internal/asrclient"
	"github.com/riftcast/streamscribe/internal/asrclient/mock"
	"github.com/riftcast/streamscribe/internal/types"
)

func TestOpenWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	p := mock.New()
	attempts := 0
	provider := &flakyProvider{
		inner: p,
		failN: 2,
		onCall: func() { attempts++ },
	}

	sess, err := asrclient.OpenWithRetry(context.Background(), provider, asrclient.StreamParams{}, 5)
	if err != nil {
		t.Fatalf("OpenWithRetry: %v", err)
	}
	if sess == nil {
		t.Fatal("expected non-nil session")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestOpenWithRetry_RejectedIsNotRetried(t *testing.T) {
	p := mock.New()
	p.OpenErr = types.ErrAsrRejected
	attempts := 0
	provider := &flakyProvider{inner: p, failN: 0, rejectAlways: true, onCall: func() { attempts++ }}

	_, err := asrclient.OpenWithRetry(context.Background(), provider, asrclient.StreamParams{}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a rejection, got %d", attempts)
	}
}

// flakyProvider wraps a mock.Provider to fail the first failN Open calls
// with types.ErrAsrUnavailable, or always with types.ErrAsrRejected when
// rejectAlways is set.
type flakyProvider struct {
	inner        *mock.Provider
	calls        int
	failN        int
	rejectAlways bool
	onCall       func()
}

func (f *flakyProvider) Open(ctx context.Context, params asrclient.StreamParams) (asrclient.Session, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.rejectAlways {
		return nil, types.ErrAsrRejected
	}
	if f.calls <= f.failN {
		return nil, fmt.Errorf("%w: dial refused", types.ErrAsrUnavailable)
	}
	return f.inner.Open(ctx, params)
}
