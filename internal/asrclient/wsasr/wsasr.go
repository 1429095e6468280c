// Package wsasr is a WebSocket binding of the asrclient.Provider/Session
// contract, grounded on the same dial/read-loop/write-loop shape used
// elsewhere in this codebase's streaming provider clients. It is the
// reference transport for the abstract ASR interface; internal/asrclient
// itself never imports this package.
package wsasr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/riftcast/streamscribe/internal/asrclient"
	"github.com/riftcast/streamscribe/internal/types"
)

// Config configures a Provider.
type Config struct {
	// Endpoint is the remote ASR WebSocket URL, e.g. "wss://asr.example.com/v1/stream".
	Endpoint string

	// HeartbeatTimeout is the missed-heartbeat threshold before a session is
	// considered AsrClosed.
	HeartbeatTimeout time.Duration

	// IdlePing is the interval after which a ping is sent if no frames have
	// been pushed.
	IdlePing time.Duration

	// MaxPendingFrames bounds the local outbound send buffer.
	MaxPendingFrames int
}

// Provider implements asrclient.Provider over a plain WebSocket connection.
type Provider struct {
	cfg Config
}

// New creates a Provider. endpoint must be non-empty.
func New(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("wsasr: endpoint must not be empty")
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	if cfg.IdlePing <= 0 {
		cfg.IdlePing = 5 * time.Second
	}
	if cfg.MaxPendingFrames <= 0 {
		cfg.MaxPendingFrames = 250
	}
	return &Provider{cfg: cfg}, nil
}

// Open dials the remote ASR endpoint and starts the session's read and
// write loops.
func (p *Provider) Open(ctx context.Context, params asrclient.StreamParams) (asrclient.Session, error) {
	wsURL, err := p.buildURL(params)
	if err != nil {
		return nil, fmt.Errorf("%w: build url: %v", types.ErrAsrUnavailable, err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", types.ErrAsrUnavailable, err)
	}

	sess := &session{
		conn:             conn,
		events:           make(chan types.TranscriptEvent, 64),
		frames:           make(chan types.Frame, p.cfg.MaxPendingFrames),
		done:             make(chan struct{}),
		heartbeatTimeout: p.cfg.HeartbeatTimeout,
		idlePing:         p.cfg.IdlePing,
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

func (p *Provider) buildURL(params asrclient.StreamParams) (string, error) {
	u, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if params.Language != "" {
		q.Set("language", params.Language)
	}
	if params.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(params.SampleRate))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// remoteEvent is the JSON envelope the remote ASR service sends over the
// WebSocket's text frames.
type remoteEvent struct {
	Type       string  `json:"type"` // "partial" | "final" | "error"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

type session struct {
	conn   *websocket.Conn
	events chan types.TranscriptEvent
	frames chan types.Frame

	done     chan struct{}
	closeErr error
	once     sync.Once
	wg       sync.WaitGroup

	heartbeatTimeout time.Duration
	idlePing         time.Duration

	seq uint64
}

// PushFrame never blocks: a full frames channel is rejected immediately as
// backpressure rather than waited out, so ctx is accepted for interface
// parity with other providers but never observed here.
func (s *session) PushFrame(_ context.Context, frame types.Frame) error {
	select {
	case <-s.done:
		return types.ErrAsrClosed
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return types.ErrAsrClosed
	default:
		return types.ErrAsrBackpressureExceeded
	}
}

func (s *session) Finish(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	return s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"finish"}`))
}

func (s *session) Events() <-chan types.TranscriptEvent { return s.events }

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.idlePing)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-s.frames:
			if !ok {
				return
			}
			if err := s.writeFrame(ctx, frame); err != nil {
				return
			}
			ticker.Reset(s.idlePing)
		case <-ticker.C:
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) writeFrame(ctx context.Context, frame types.Frame) error {
	buf := make([]byte, 4*len(frame.Samples))
	for i, v := range frame.Samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return s.conn.Write(ctx, websocket.MessageBinary, buf)
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	lastMsg := time.Now()
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.heartbeatTimeout)
		_, msg, err := s.conn.Read(readCtx)
		cancel()
		if err != nil {
			if time.Since(lastMsg) >= s.heartbeatTimeout {
				s.emitTerminal(fmt.Errorf("%w: missed heartbeat", types.ErrAsrClosed))
			} else {
				s.emitTerminal(fmt.Errorf("%w: %v", types.ErrAsrClosed, err))
			}
			return
		}
		lastMsg = time.Now()

		ev, ok := parseRemoteEvent(msg, s.seq)
		if !ok {
			continue
		}
		s.seq++

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}

		if ev.Kind == types.TranscriptFinal || ev.Kind == types.TranscriptServerError {
			return
		}
	}
}

func (s *session) emitTerminal(err error) {
	select {
	case s.events <- types.TranscriptEvent{Kind: types.TranscriptServerError, Seq: s.seq, Err: err}:
	case <-s.done:
	}
}

func parseRemoteEvent(data []byte, seq uint64) (types.TranscriptEvent, bool) {
	var resp remoteEvent
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.TranscriptEvent{}, false
	}
	switch resp.Type {
	case "partial":
		return types.TranscriptEvent{Kind: types.TranscriptPartial, Text: resp.Text, Confidence: resp.Confidence, Seq: seq}, true
	case "final":
		return types.TranscriptEvent{Kind: types.TranscriptFinal, Text: resp.Text, Confidence: resp.Confidence, Seq: seq}, true
	case "error":
		return types.TranscriptEvent{Kind: types.TranscriptServerError, Seq: seq, Err: fmt.Errorf("%w: %s", types.ErrAsrClosed, resp.Message)}, true
	default:
		return types.TranscriptEvent{}, false
	}
}
