// Package config provides the configuration schema and loader for the
// streaming transcription backend.
package config

import (
	"time"

	"github.com/riftcast/streamscribe/internal/types"
)

// Config is the root configuration structure for the streaming
// transcription server. It is typically loaded from a YAML file using
// [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Input   InputConfig   `yaml:"input"`
	Target  TargetConfig  `yaml:"target"`
	Session SessionConfig `yaml:"session"`
	Asr     AsrConfig     `yaml:"asr"`
	SSE     SSEConfig     `yaml:"sse"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// ServerConfig holds network, logging, and routing settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// RoutePrefix is the URL prefix under which the three session endpoints
	// are mounted. Default: "/http/v1/sessions".
	RoutePrefix string `yaml:"route_prefix"`

	// AutoCreateOnChunk controls whether a session is implicitly created on
	// first /chunk. Defaults to true when unset; see [Config.AutoCreateOnChunk].
	AutoCreateOnChunk *bool `yaml:"auto_create_on_chunk"`
}

// InputConfig describes the audio format the client is expected to send.
type InputConfig struct {
	// SampleRateHz is the client PCM sample rate in Hz.
	SampleRateHz int `yaml:"sample_rate_hz"`

	// Channels is the client PCM channel count.
	Channels int `yaml:"channels"`
}

// TargetConfig describes the audio format the ASR service expects.
type TargetConfig struct {
	// SampleRateHz is the ASR target sample rate in Hz (fixed at 16000 in practice).
	SampleRateHz int `yaml:"sample_rate_hz"`

	// FrameDurationMs is the Assembler's emitted frame length in milliseconds.
	FrameDurationMs int `yaml:"frame_duration_ms"`
}

// SessionConfig holds Session and Registry lifecycle knobs.
type SessionConfig struct {
	// MaxSessions is the Registry capacity. Sessions that have reached
	// Closed or Failed still count against it until the sweeper removes them.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeoutMs closes a session whose last activity is older than this.
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`

	// MaxSessionDurationMs is the absolute session lifetime; exceeding it
	// triggers a graceful finish.
	MaxSessionDurationMs int `yaml:"max_session_duration_ms"`

	// AcceptTimeoutMs bounds how long accept_chunk waits for inbound queue
	// space before failing with Backpressure.
	AcceptTimeoutMs int `yaml:"accept_timeout_ms"`

	// SweepIntervalMs is the Registry sweeper's scan interval.
	SweepIntervalMs int `yaml:"sweep_interval_ms"`

	// TerminalGraceMs is how long a terminal session with no subscriber is
	// retained before the sweeper removes it outright.
	TerminalGraceMs int `yaml:"terminal_grace_ms"`

	// ShutdownGraceMs bounds how long in-flight frames are allowed to drain
	// on process shutdown before sessions are force-closed.
	ShutdownGraceMs int `yaml:"shutdown_grace_ms"`
}

// AsrConfig holds remote ASR service connection settings.
type AsrConfig struct {
	// Endpoint is the remote ASR service address.
	Endpoint string `yaml:"endpoint"`

	// Language is a BCP-47 language tag, or "auto".
	Language string `yaml:"language"`

	// OpenMaxRetries bounds exponential-backoff retries of open(). Default: 3.
	OpenMaxRetries int `yaml:"open_max_retries"`

	// HeartbeatTimeoutMs is the missed-heartbeat threshold before AsrClosed.
	HeartbeatTimeoutMs int `yaml:"heartbeat_timeout_ms"`

	// IdlePingMs is the interval after which a heartbeat is sent if no
	// frames have been pushed.
	IdlePingMs int `yaml:"idle_ping_ms"`

	// PoolSize is the number of concurrently open ASR connections shared
	// across sessions.
	PoolSize int `yaml:"pool_size"`

	// PoolAcquireTimeoutMs bounds how long a session waits for a pooled
	// dial slot.
	PoolAcquireTimeoutMs int `yaml:"pool_acquire_timeout_ms"`
}

// SSEConfig holds Server-Sent Events framing settings.
type SSEConfig struct {
	// KeepaliveMs is the heartbeat comment interval when no event has fired.
	KeepaliveMs int `yaml:"keepalive_ms"`
}

// LimitsConfig holds the bounded-queue capacities for a session's pending
// chunk, frame, and event buffers.
type LimitsConfig struct {
	MaxPendingChunks int `yaml:"max_pending_chunks"`
	MaxPendingFrames int `yaml:"max_pending_frames"`
	MaxPendingEvents int `yaml:"max_pending_events"`
}

// Defaults applied by WithDefaults when a field is left at its zero value.
const (
	DefaultRoutePrefix          = "/http/v1/sessions"
	DefaultTargetSampleRateHz   = 16000
	DefaultFrameDurationMs      = 20
	DefaultMaxSessions          = 256
	DefaultIdleTimeoutMs        = 60_000
	DefaultMaxSessionDurationMs = 2 * 60 * 60 * 1000
	DefaultAcceptTimeoutMs      = 2_000
	DefaultSweepIntervalMs      = 5_000
	DefaultTerminalGraceMs      = 30_000
	DefaultShutdownGraceMs      = 5_000
	DefaultOpenMaxRetries       = 3
	DefaultHeartbeatTimeoutMs   = 10_000
	DefaultIdlePingMs           = 5_000
	DefaultPoolSize             = 32
	DefaultPoolAcquireTimeoutMs = 3_000
	DefaultSSEKeepaliveMs       = 15_000
	DefaultMaxPendingChunks     = 64
	// DefaultMaxPendingFrames approximates 5 seconds of 20ms frames.
	DefaultMaxPendingFrames = 250
	DefaultMaxPendingEvents = 256
)

// AudioProfile builds the runtime [types.AudioProfile] from cfg, applying
// defaults, for use by the Assembler and Session.
func (c *Config) AudioProfile() types.AudioProfile {
	target := c.Target.SampleRateHz
	if target == 0 {
		target = DefaultTargetSampleRateHz
	}
	frameMs := c.Target.FrameDurationMs
	if frameMs == 0 {
		frameMs = DefaultFrameDurationMs
	}
	channels := c.Input.Channels
	if channels == 0 {
		channels = 1
	}
	return types.AudioProfile{
		InputSampleRate:  c.Input.SampleRateHz,
		InputChannels:    channels,
		TargetSampleRate: target,
		TargetChannels:   1,
		FrameDuration:    time.Duration(frameMs) * time.Millisecond,
	}
}

// AutoCreateOnChunk reports whether implicit session creation on /chunk is
// enabled. Defaults to true when unset.
func (c *Config) AutoCreateOnChunk() bool {
	if c.Server.AutoCreateOnChunk == nil {
		return true
	}
	return *c.Server.AutoCreateOnChunk
}
