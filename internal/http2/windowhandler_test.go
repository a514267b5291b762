package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutgoingWindowHandler_ApplyWindowUpdate(t *testing.T) {
	h := NewOutgoingWindowHandler(100, false, 3)
	require.NoError(t, h.ApplyWindowUpdate(50))
	assert.EqualValues(t, 150, h.Available())
}

func TestOutgoingWindowHandler_ApplyWindowUpdate_ZeroIncrementIsStreamError(t *testing.T) {
	h := NewOutgoingWindowHandler(100, false, 3)
	err := h.ApplyWindowUpdate(0)
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.EqualValues(t, 3, streamErr.StreamID)
	assert.Equal(t, ErrCodeFlowControlError, streamErr.Code)
}

func TestOutgoingWindowHandler_ApplyWindowUpdate_ZeroIncrementOnConnIsConnError(t *testing.T) {
	h := NewOutgoingWindowHandler(100, true, 0)
	err := h.ApplyWindowUpdate(0)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestOutgoingWindowHandler_ApplyWindowUpdate_OverflowIsError(t *testing.T) {
	h := NewOutgoingWindowHandler(MaxWindowSize, false, 5)
	err := h.ApplyWindowUpdate(1)
	require.Error(t, err)
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
}

func TestOutgoingWindowHandler_Consume(t *testing.T) {
	h := NewOutgoingWindowHandler(100, false, 1)
	h.Consume(30)
	assert.EqualValues(t, 70, h.Available())
	assert.True(t, h.CanSend(70))
	assert.False(t, h.CanSend(71))
}

func TestOutgoingWindowHandler_ApplyInitialWindowSizeDelta(t *testing.T) {
	h := NewOutgoingWindowHandler(100, false, 1)
	require.NoError(t, h.ApplyInitialWindowSizeDelta(-50))
	assert.EqualValues(t, 50, h.Available())

	require.NoError(t, h.ApplyInitialWindowSizeDelta(-100))
	assert.EqualValues(t, -50, h.Available())
}

func TestOutgoingWindowHandler_ApplyInitialWindowSizeDelta_Overflow(t *testing.T) {
	h := NewOutgoingWindowHandler(MaxWindowSize, false, 1)
	err := h.ApplyInitialWindowSizeDelta(1)
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestIncomingWindowHandler_OnBytesReceived_NoEmitBelowThreshold(t *testing.T) {
	h := NewIncomingWindowHandler(100, false, 1)
	inc, shouldEmit := h.OnBytesReceived(10)
	assert.False(t, shouldEmit)
	assert.Zero(t, inc)
	assert.EqualValues(t, 90, h.Window().Available())
}

func TestIncomingWindowHandler_OnBytesReceived_EmitsAtThreshold(t *testing.T) {
	h := NewIncomingWindowHandler(100, false, 1) // threshold = 50
	inc, shouldEmit := h.OnBytesReceived(60)
	assert.True(t, shouldEmit)
	assert.EqualValues(t, 60, inc)
	// window was consumed by 60 then replenished by 60: net unchanged.
	assert.EqualValues(t, 100, h.Window().Available())
}

func TestIncomingWindowHandler_OnBytesReceived_AccumulatesAcrossCalls(t *testing.T) {
	h := NewIncomingWindowHandler(100, false, 1) // threshold = 50
	_, shouldEmit := h.OnBytesReceived(30)
	assert.False(t, shouldEmit)
	inc, shouldEmit := h.OnBytesReceived(30)
	assert.True(t, shouldEmit)
	assert.EqualValues(t, 60, inc)
}

func TestIncomingWindowHandler_UpdateInitialWindowSize(t *testing.T) {
	h := NewIncomingWindowHandler(100, false, 1)
	h.UpdateInitialWindowSize(10)
	_, shouldEmit := h.OnBytesReceived(5)
	assert.True(t, shouldEmit)
}

func TestReplenishThresholdFor_SmallInitialSize(t *testing.T) {
	h := NewIncomingWindowHandler(1, false, 1)
	inc, shouldEmit := h.OnBytesReceived(1)
	assert.True(t, shouldEmit)
	assert.EqualValues(t, 1, inc)
}
