// Package logger builds the zerolog.Logger instances an embedder hands
// to http2.ClientOptions/ServerOptions. The connection controller logs
// frame dispatch decisions, settings negotiation, window updates, and
// shutdown transitions at debug; connection-fatal errors at error.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to out at the given level, with a
// timestamp field on every event. A nil out defaults to stderr.
func New(out io.Writer, level zerolog.Level) *zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &zl
}

// ParseLevel parses one of zerolog's level names ("debug", "info",
// "warn", "error", "disabled", ...), defaulting to InfoLevel for an
// empty string.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(s)
}

// Nop returns a logger that discards everything, for callers that don't
// want connection-core logging at all.
func Nop() *zerolog.Logger {
	zl := zerolog.Nop()
	return &zl
}

// WithStream returns a child logger tagging every event with the given
// stream ID.
func WithStream(l *zerolog.Logger, streamID uint32) *zerolog.Logger {
	child := l.With().Uint32("stream_id", streamID).Logger()
	return &child
}

// WithFrameType returns a child logger tagging every event with the
// given frame type name.
func WithFrameType(l *zerolog.Logger, frameType string) *zerolog.Logger {
	child := l.With().Str("frame_type", frameType).Logger()
	return &child
}

// WithConnState returns a child logger tagging every event with the
// given connection state name.
func WithConnState(l *zerolog.Logger, state string) *zerolog.Logger {
	child := l.With().Str("conn_state", state).Logger()
	return &child
}
