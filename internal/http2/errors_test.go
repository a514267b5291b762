package http2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode_String(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrCodeNoError, "NO_ERROR"},
		{ErrCodeProtocolError, "PROTOCOL_ERROR"},
		{ErrCodeFlowControlError, "FLOW_CONTROL_ERROR"},
		{ErrCodeRefusedStream, "REFUSED_STREAM"},
		{ErrorCode(0xff), "UNKNOWN_ERROR_CODE_255"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.code.String())
	}
}

func TestStreamError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewStreamErrorWithCause(3, ErrCodeInternalError, "handler failed", cause)
	assert.Contains(t, e.Error(), "stream 3")
	assert.Contains(t, e.Error(), "boom")
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestConnectionError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("desync")
	e := NewConnectionErrorWithCause(ErrCodeCompressionError, "hpack error", cause)
	assert.Contains(t, e.Error(), "hpack error")
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestTransportError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("closed pipe")
	e := NewTransportError("write failed", cause)
	assert.Contains(t, e.Error(), "write failed")
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrCodeNoError, classify(nil))
	assert.Equal(t, ErrCodeProtocolError, classify(NewConnectionError(ErrCodeProtocolError, "x")))
	assert.Equal(t, ErrCodeCancel, classify(NewStreamError(1, ErrCodeCancel, "x")))
	assert.Equal(t, ErrCodeConnectError, classify(NewTransportError("x", nil)))
	assert.Equal(t, ErrCodeInternalError, classify(errors.New("plain")))
}

func TestIsTerminatedErr(t *testing.T) {
	assert.True(t, isTerminatedErr(ErrTerminated))
	assert.False(t, isTerminatedErr(NewConnectionError(ErrCodeNoError, "connection already terminated")))
	assert.False(t, isTerminatedErr(errors.New("other")))
}

func TestGenerateRSTStreamFrame_FromStreamError(t *testing.T) {
	se := NewStreamError(7, ErrCodeCancel, "cancelled")
	f := GenerateRSTStreamFrame(0, ErrCodeNoError, se)
	assert.EqualValues(t, 7, f.StreamID)
	assert.Equal(t, ErrCodeCancel, f.ErrorCode)
}

func TestGenerateRSTStreamFrame_PlainPair(t *testing.T) {
	f := GenerateRSTStreamFrame(9, ErrCodeProtocolError, nil)
	assert.EqualValues(t, 9, f.StreamID)
	assert.Equal(t, ErrCodeProtocolError, f.ErrorCode)
}

func TestGenerateGoAwayFrame_FromConnectionError(t *testing.T) {
	ce := &ConnectionError{LastStreamID: 5, Code: ErrCodeProtocolError, Msg: "bad frame"}
	f := GenerateGoAwayFrame(0, ErrCodeNoError, "unused", ce)
	assert.EqualValues(t, 5, f.LastStreamID)
	assert.Equal(t, ErrCodeProtocolError, f.ErrorCode)
	assert.Equal(t, "bad frame", string(f.AdditionalDebugData))
}

func TestGenerateGoAwayFrame_PlainTriple(t *testing.T) {
	f := GenerateGoAwayFrame(11, ErrCodeEnhanceYourCalm, "too fast", nil)
	assert.EqualValues(t, 11, f.LastStreamID)
	assert.Equal(t, ErrCodeEnhanceYourCalm, f.ErrorCode)
	assert.Equal(t, "too fast", string(f.AdditionalDebugData))
}

func TestNewStreamError_NoCause(t *testing.T) {
	e := NewStreamError(1, ErrCodeCancel, "done")
	require.Nil(t, e.Cause)
	assert.Nil(t, e.Unwrap())
}
