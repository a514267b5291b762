package http2

import "fmt"

// ErrorCode represents an HTTP/2 error code (RFC 7540 Section 7).
type ErrorCode uint32

const (
	ErrCodeNoError            ErrorCode = 0x0
	ErrCodeProtocolError      ErrorCode = 0x1
	ErrCodeInternalError      ErrorCode = 0x2
	ErrCodeFlowControlError   ErrorCode = 0x3
	ErrCodeSettingsTimeout    ErrorCode = 0x4
	ErrCodeStreamClosed       ErrorCode = 0x5
	ErrCodeFrameSizeError     ErrorCode = 0x6
	ErrCodeRefusedStream      ErrorCode = 0x7
	ErrCodeCancel             ErrorCode = 0x8
	ErrCodeCompressionError   ErrorCode = 0x9
	ErrCodeConnectError       ErrorCode = 0xa
	ErrCodeEnhanceYourCalm    ErrorCode = 0xb
	ErrCodeInadequateSecurity ErrorCode = 0xc
	ErrCodeHTTP11Required     ErrorCode = 0xd
)

func (e ErrorCode) String() string {
	switch e {
	case ErrCodeNoError:
		return "NO_ERROR"
	case ErrCodeProtocolError:
		return "PROTOCOL_ERROR"
	case ErrCodeInternalError:
		return "INTERNAL_ERROR"
	case ErrCodeFlowControlError:
		return "FLOW_CONTROL_ERROR"
	case ErrCodeSettingsTimeout:
		return "SETTINGS_TIMEOUT"
	case ErrCodeStreamClosed:
		return "STREAM_CLOSED"
	case ErrCodeFrameSizeError:
		return "FRAME_SIZE_ERROR"
	case ErrCodeRefusedStream:
		return "REFUSED_STREAM"
	case ErrCodeCancel:
		return "CANCEL"
	case ErrCodeCompressionError:
		return "COMPRESSION_ERROR"
	case ErrCodeConnectError:
		return "CONNECT_ERROR"
	case ErrCodeEnhanceYourCalm:
		return "ENHANCE_YOUR_CALM"
	case ErrCodeInadequateSecurity:
		return "INADEQUATE_SECURITY"
	case ErrCodeHTTP11Required:
		return "HTTP_1_1_REQUIRED"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint32(e))
	}
}

// StreamError is scoped to a single stream; the boundary rule in spec §7
// is that it must not require mutating shared connection state.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Msg      string
	Cause    error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream %d: %s (%s): %v", e.StreamID, e.Msg, e.Code, e.Cause)
	}
	return fmt.Sprintf("stream %d: %s (%s)", e.StreamID, e.Msg, e.Code)
}

func (e *StreamError) Unwrap() error { return e.Cause }

func NewStreamError(streamID uint32, code ErrorCode, msg string) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg}
}

func NewStreamErrorWithCause(streamID uint32, code ErrorCode, msg string, cause error) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg, Cause: cause}
}

// ConnectionError is fatal to the whole connection: HPACK desync, a
// zero-stream frame that isn't valid there, or any condition that
// touches shared state (windows, settings, HPACK tables).
type ConnectionError struct {
	LastStreamID uint32
	Code         ErrorCode
	Msg          string
	Cause        error
	DebugData    []byte
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection error: %s (last_stream_id %d, %s): %v", e.Msg, e.LastStreamID, e.Code, e.Cause)
	}
	return fmt.Sprintf("connection error: %s (last_stream_id %d, %s)", e.Msg, e.LastStreamID, e.Code)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

func NewConnectionError(code ErrorCode, msg string) *ConnectionError {
	return &ConnectionError{Code: code, Msg: msg}
}

func NewConnectionErrorWithCause(code ErrorCode, msg string, cause error) *ConnectionError {
	return &ConnectionError{Code: code, Msg: msg, Cause: cause}
}

// TransportError wraps a failure of the byte duplex itself (§7 kind 3):
// the inbound sequence errored or ended unexpectedly, or the outbound
// sink errored or drained before Terminated. No GOAWAY is attempted for
// these — the wire is gone.
type TransportError struct {
	Msg   string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("transport error: %s", e.Msg)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func NewTransportError(msg string, cause error) *TransportError {
	return &TransportError{Msg: msg, Cause: cause}
}

// ErrTerminated marks an inbound frame that needs no further handling:
// the stream registry returns it after refusing a new peer stream with
// RST_STREAM, and Terminate records it as the connection's error. Per
// spec §9's design note, this is swallowed at the dispatch boundary,
// never promoted to a fresh connection error.
var ErrTerminated = NewConnectionError(ErrCodeNoError, "connection already terminated")

// classify maps an arbitrary error produced during inbound dispatch to
// the GOAWAY code it should be reported with (spec §4.1 "Errors during
// dispatch"). Connection and stream errors keep their own code, a
// TransportError maps to CONNECT_ERROR, and anything else to
// INTERNAL_ERROR.
func classify(err error) ErrorCode {
	if err == nil {
		return ErrCodeNoError
	}
	if ce, ok := err.(*ConnectionError); ok {
		return ce.Code
	}
	if se, ok := err.(*StreamError); ok {
		return se.Code
	}
	if _, ok := err.(*TransportError); ok {
		return ErrCodeConnectError
	}
	return ErrCodeInternalError
}

// isTerminatedErr reports whether err represents the "already
// terminated" condition that dispatch must drop silently (spec §9).
func isTerminatedErr(err error) bool {
	ce, ok := err.(*ConnectionError)
	return ok && ce == ErrTerminated
}

// GenerateRSTStreamFrame builds an RST_STREAM frame from a StreamError
// or a plain (streamID, code) pair.
func GenerateRSTStreamFrame(streamID uint32, errCode ErrorCode, err error) *RSTStreamFrame {
	code := errCode
	sid := streamID
	if se, ok := err.(*StreamError); ok {
		code = se.Code
		if se.StreamID != 0 {
			sid = se.StreamID
		}
	}
	return &RSTStreamFrame{
		FrameHeader: FrameHeader{Type: FrameRSTStream, StreamID: sid, Length: 4},
		ErrorCode:   code,
	}
}

// GenerateGoAwayFrame builds a GOAWAY frame from a ConnectionError or a
// plain (lastStreamID, code, debug) triple.
func GenerateGoAwayFrame(lastStreamID uint32, errCode ErrorCode, debugStr string, err error) *GoAwayFrame {
	code := errCode
	lsid := lastStreamID
	var debug []byte
	if ce, ok := err.(*ConnectionError); ok {
		lsid = ce.LastStreamID
		code = ce.Code
		switch {
		case len(ce.DebugData) > 0:
			debug = ce.DebugData
		case ce.Msg != "":
			debug = []byte(ce.Msg)
		default:
			debug = []byte(debugStr)
		}
	} else {
		debug = []byte(debugStr)
	}
	return &GoAwayFrame{
		FrameHeader:         FrameHeader{Type: FrameGoAway, StreamID: 0, Length: 8 + uint32(len(debug))},
		LastStreamID:        lsid,
		ErrorCode:           code,
		AdditionalDebugData: debug,
	}
}
