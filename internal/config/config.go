// Package config loads the tunable knobs an embedder uses to build
// http2.ClientOptions/ServerOptions. The connection core never opens a
// file itself; LoadSettings is plumbing for the caller.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Settings mirrors the six recognized HTTP/2 SETTINGS parameters plus a
// handful of implementation-chosen knobs the core needs but RFC 7540
// leaves to the implementation.
type Settings struct {
	HeaderTableSize      uint32 `toml:"header_table_size"`
	EnablePush           bool   `toml:"enable_push"`
	MaxConcurrentStreams uint32 `toml:"max_concurrent_streams"` // 0 means unlimited
	InitialWindowSize    uint32 `toml:"initial_window_size"`
	MaxFrameSize         uint32 `toml:"max_frame_size"`
	MaxHeaderListSize    uint32 `toml:"max_header_list_size"` // 0 means unlimited

	// MaxPendingPings bounds the number of outstanding Ping calls before
	// further pings are rejected.
	MaxPendingPings uint32 `toml:"max_pending_pings"`
	// WindowReplenishThreshold is the fraction (in basis points out of
	// 10000) of the advertised window that must be consumed before a
	// WINDOW_UPDATE is sent, trading update frequency for latency.
	WindowReplenishThreshold uint32 `toml:"window_replenish_threshold_bps"`
	// HPACKInitialTableSize seeds both HPACK dynamic tables before any
	// SETTINGS negotiation changes them.
	HPACKInitialTableSize uint32 `toml:"hpack_initial_table_size"`
}

const (
	defaultHeaderTableSize            = 4096
	defaultMaxConcurrentStreams       = 0 // unlimited
	defaultInitialWindowSize          = 65535
	defaultMaxFrameSize               = 16384
	defaultMaxHeaderListSize          = 0 // unlimited
	defaultMaxPendingPings            = 10000
	defaultWindowReplenishThresholdBP = 5000 // 50%
	defaultHPACKInitialTableSize      = 4096
)

// DefaultSettings returns the RFC 7540 Section 11.3 defaults plus this
// library's defaults for its own implementation-chosen knobs.
func DefaultSettings() *Settings {
	return &Settings{
		HeaderTableSize:          defaultHeaderTableSize,
		EnablePush:               true,
		MaxConcurrentStreams:     defaultMaxConcurrentStreams,
		InitialWindowSize:        defaultInitialWindowSize,
		MaxFrameSize:             defaultMaxFrameSize,
		MaxHeaderListSize:        defaultMaxHeaderListSize,
		MaxPendingPings:          defaultMaxPendingPings,
		WindowReplenishThreshold: defaultWindowReplenishThresholdBP,
		HPACKInitialTableSize:    defaultHPACKInitialTableSize,
	}
}

// LoadSettings reads a TOML file at path and overlays it onto
// DefaultSettings, validating the result.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	s := DefaultSettings()
	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %q: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks Settings against the bounds the core itself enforces
// on SETTINGS values (spec §4.6), so a misconfiguration surfaces at load
// time rather than as a protocol error on the first handshake.
func (s *Settings) Validate() error {
	const maxWindowSize = (uint32(1) << 31) - 1
	const maxAllowedFrameSize = (uint32(1) << 24) - 1
	const minAllowedFrameSize = 16384

	if s.InitialWindowSize > maxWindowSize {
		return fmt.Errorf("initial_window_size %d exceeds max %d", s.InitialWindowSize, maxWindowSize)
	}
	if s.MaxFrameSize < minAllowedFrameSize || s.MaxFrameSize > maxAllowedFrameSize {
		return fmt.Errorf("max_frame_size %d out of range [%d, %d]", s.MaxFrameSize, minAllowedFrameSize, maxAllowedFrameSize)
	}
	if s.MaxPendingPings == 0 {
		return fmt.Errorf("max_pending_pings must be positive")
	}
	if s.WindowReplenishThreshold > 10000 {
		return fmt.Errorf("window_replenish_threshold_bps %d exceeds 10000", s.WindowReplenishThreshold)
	}
	if s.HPACKInitialTableSize == 0 {
		return fmt.Errorf("hpack_initial_table_size must be positive")
	}
	return nil
}
