package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempTOML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings_EmptyPath(t *testing.T) {
	_, err := LoadSettings("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file path cannot be empty")
}

func TestLoadSettings_NonExistentFile(t *testing.T) {
	_, err := LoadSettings("does-not-exist.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read configuration file")
}

func TestLoadSettings_DefaultsApplied(t *testing.T) {
	path := writeTempTOML(t, "")
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestLoadSettings_OverridesDefaults(t *testing.T) {
	path := writeTempTOML(t, `
header_table_size = 8192
enable_push = false
max_concurrent_streams = 100
initial_window_size = 1048576
max_frame_size = 32768
max_header_list_size = 65536
max_pending_pings = 50
window_replenish_threshold_bps = 2500
hpack_initial_table_size = 8192
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)

	assert.EqualValues(t, 8192, s.HeaderTableSize)
	assert.False(t, s.EnablePush)
	assert.EqualValues(t, 100, s.MaxConcurrentStreams)
	assert.EqualValues(t, 1048576, s.InitialWindowSize)
	assert.EqualValues(t, 32768, s.MaxFrameSize)
	assert.EqualValues(t, 65536, s.MaxHeaderListSize)
	assert.EqualValues(t, 50, s.MaxPendingPings)
	assert.EqualValues(t, 2500, s.WindowReplenishThreshold)
	assert.EqualValues(t, 8192, s.HPACKInitialTableSize)
}

func TestLoadSettings_InvalidTOMLSyntax(t *testing.T) {
	path := writeTempTOML(t, "this is not valid toml [[[")
	_, err := LoadSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse TOML config")
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{
			name:    "initial window too large",
			mutate:  func(s *Settings) { s.InitialWindowSize = 1 << 31 },
			wantErr: "initial_window_size",
		},
		{
			name:    "max frame size too small",
			mutate:  func(s *Settings) { s.MaxFrameSize = 100 },
			wantErr: "max_frame_size",
		},
		{
			name:    "max frame size too large",
			mutate:  func(s *Settings) { s.MaxFrameSize = 1 << 25 },
			wantErr: "max_frame_size",
		},
		{
			name:    "zero max pending pings",
			mutate:  func(s *Settings) { s.MaxPendingPings = 0 },
			wantErr: "max_pending_pings",
		},
		{
			name:    "replenish threshold out of range",
			mutate:  func(s *Settings) { s.WindowReplenishThreshold = 10001 },
			wantErr: "window_replenish_threshold_bps",
		},
		{
			name:    "zero hpack table size",
			mutate:  func(s *Settings) { s.HPACKInitialTableSize = 0 },
			wantErr: "hpack_initial_table_size",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
