package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the log levels accepted in server.log_level.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error (via [errors.Join]) listing every invalid field found; a nil
// return means cfg is safe to use as-is (zero-value fields are replaced with
// defaults at the point of use, not here).
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	if cfg.Input.SampleRateHz < 0 {
		errs = append(errs, fmt.Errorf("input.sample_rate_hz must be non-negative, got %d", cfg.Input.SampleRateHz))
	}
	if cfg.Input.Channels < 0 {
		errs = append(errs, fmt.Errorf("input.channels must be non-negative, got %d", cfg.Input.Channels))
	}
	if cfg.Target.SampleRateHz < 0 {
		errs = append(errs, fmt.Errorf("target.sample_rate_hz must be non-negative, got %d", cfg.Target.SampleRateHz))
	}
	if cfg.Target.FrameDurationMs < 0 {
		errs = append(errs, fmt.Errorf("target.frame_duration_ms must be non-negative, got %d", cfg.Target.FrameDurationMs))
	}

	if cfg.Session.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions must be non-negative, got %d", cfg.Session.MaxSessions))
	}
	if cfg.Session.IdleTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout_ms must be non-negative, got %d", cfg.Session.IdleTimeoutMs))
	}
	if cfg.Session.MaxSessionDurationMs < 0 {
		errs = append(errs, fmt.Errorf("session.max_session_duration_ms must be non-negative, got %d", cfg.Session.MaxSessionDurationMs))
	}

	if cfg.Asr.OpenMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("asr.open_max_retries must be non-negative, got %d", cfg.Asr.OpenMaxRetries))
	}
	if cfg.Asr.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("asr.pool_size must be non-negative, got %d", cfg.Asr.PoolSize))
	}

	for name, v := range map[string]int{
		"limits.max_pending_chunks": cfg.Limits.MaxPendingChunks,
		"limits.max_pending_frames": cfg.Limits.MaxPendingFrames,
		"limits.max_pending_events": cfg.Limits.MaxPendingEvents,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %d", name, v))
		}
	}

	return errors.Join(errs...)
}

// WithDefaults returns a copy of cfg with every zero-value tunable replaced
// by its package default. Call this once after [Load]/[LoadFromReader]
// before wiring subsystems.
func WithDefaults(cfg Config) Config {
	if cfg.Server.RoutePrefix == "" {
		cfg.Server.RoutePrefix = DefaultRoutePrefix
	}
	if cfg.Target.SampleRateHz == 0 {
		cfg.Target.SampleRateHz = DefaultTargetSampleRateHz
	}
	if cfg.Target.FrameDurationMs == 0 {
		cfg.Target.FrameDurationMs = DefaultFrameDurationMs
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = DefaultMaxSessions
	}
	if cfg.Session.IdleTimeoutMs == 0 {
		cfg.Session.IdleTimeoutMs = DefaultIdleTimeoutMs
	}
	if cfg.Session.MaxSessionDurationMs == 0 {
		cfg.Session.MaxSessionDurationMs = DefaultMaxSessionDurationMs
	}
	if cfg.Session.AcceptTimeoutMs == 0 {
		cfg.Session.AcceptTimeoutMs = DefaultAcceptTimeoutMs
	}
	if cfg.Session.SweepIntervalMs == 0 {
		cfg.Session.SweepIntervalMs = DefaultSweepIntervalMs
	}
	if cfg.Session.TerminalGraceMs == 0 {
		cfg.Session.TerminalGraceMs = DefaultTerminalGraceMs
	}
	if cfg.Session.ShutdownGraceMs == 0 {
		cfg.Session.ShutdownGraceMs = DefaultShutdownGraceMs
	}
	if cfg.Asr.OpenMaxRetries == 0 {
		cfg.Asr.OpenMaxRetries = DefaultOpenMaxRetries
	}
	if cfg.Asr.HeartbeatTimeoutMs == 0 {
		cfg.Asr.HeartbeatTimeoutMs = DefaultHeartbeatTimeoutMs
	}
	if cfg.Asr.IdlePingMs == 0 {
		cfg.Asr.IdlePingMs = DefaultIdlePingMs
	}
	if cfg.Asr.PoolSize == 0 {
		cfg.Asr.PoolSize = DefaultPoolSize
	}
	if cfg.Asr.PoolAcquireTimeoutMs == 0 {
		cfg.Asr.PoolAcquireTimeoutMs = DefaultPoolAcquireTimeoutMs
	}
	if cfg.SSE.KeepaliveMs == 0 {
		cfg.SSE.KeepaliveMs = DefaultSSEKeepaliveMs
	}
	if cfg.Limits.MaxPendingChunks == 0 {
		cfg.Limits.MaxPendingChunks = DefaultMaxPendingChunks
	}
	if cfg.Limits.MaxPendingFrames == 0 {
		cfg.Limits.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if cfg.Limits.MaxPendingEvents == 0 {
		cfg.Limits.MaxPendingEvents = DefaultMaxPendingEvents
	}
	return cfg
}
