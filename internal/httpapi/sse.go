package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/riftcast/streamscribe/internal/types"
)

// ssePayload is the JSON body of a `data:` line. Confidence is omitted when
// unreported (zero); Error is present only on the terminal ServerError
// event, which is delivered under the same "final" event name with the
// error kind filled in instead of a distinct event type.
type ssePayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// sseEventName maps a TranscriptEvent's kind to the SSE `event:` field.
// ServerError is delivered under the "final" event name, with the error
// surfaced in the JSON payload instead of a distinct event type, so clients
// only ever need to listen for "partial" and "final".
func sseEventName(kind types.TranscriptKind) string {
	if kind == types.TranscriptPartial {
		return "partial"
	}
	return "final"
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	sub, err := sess.Subscribe()
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("%w: streaming unsupported", types.ErrInternal))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(time.Duration(s.sseKeepalive.Load()))
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				logInternal(id, "sse write", err)
				drainUntilClosed(sub)
				return
			}
			flusher.Flush()
			keepalive.Reset(time.Duration(s.sseKeepalive.Load()))
			if s.metrics != nil {
				s.metrics.RecordSSEEvent(ctx, ev.Kind.String())
			}
			if ev.Kind == types.TranscriptFinal || ev.Kind == types.TranscriptServerError {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				drainUntilClosed(sub)
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			// A disconnected subscriber does not cancel the session; the
			// producer side continues and this handler must keep draining
			// the channel to /dev/null until the terminal event so the
			// session's consume loop never blocks on a full outbound
			// channel.
			drainUntilClosed(sub)
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev types.TranscriptEvent) error {
	payload := ssePayload{Text: ev.Text, Confidence: ev.Confidence}
	if ev.Kind == types.TranscriptServerError {
		payload.Error = errorKind(ev.Err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, sseEventName(ev.Kind), data)
	return err
}

// drainUntilClosed consumes and discards every remaining event on sub until
// the channel closes, keeping the Session's consume goroutine unblocked
// after its subscriber has detached.
func drainUntilClosed(sub <-chan types.TranscriptEvent) {
	for range sub {
	}
}
