package http2

import (
	"crypto/rand"
	"fmt"
)

// PingHandler is C7: it issues pings with unique payloads, resolves
// them when the matching ACK arrives, and echoes any ping the peer
// sends us. Bounded in size per spec §5 ("implementation-chosen ping
// window"); MaxPendingPings enforces that bound.
type PingHandler struct {
	pending map[[8]byte]chan error
}

// MaxPendingPings bounds the pending-ping map (spec §3, §5). An
// embedder that needs more concurrent pings than this should wait for
// earlier ones to resolve; this is generous enough that no real
// caller should ever hit it.
const MaxPendingPings = 10000

func NewPingHandler() *PingHandler {
	return &PingHandler{pending: make(map[[8]byte]chan error)}
}

// Ping registers a new outstanding ping and returns the PING frame to
// emit plus a channel that resolves when the matching ACK arrives (nil
// error) or the connection terminates (a non-nil error).
func (h *PingHandler) Ping() (*PingFrame, chan error, error) {
	if len(h.pending) >= MaxPendingPings {
		return nil, nil, NewConnectionError(ErrCodeEnhanceYourCalm, "too many pending pings")
	}
	var payload [8]byte
	for {
		if _, err := rand.Read(payload[:]); err != nil {
			return nil, nil, NewConnectionErrorWithCause(ErrCodeInternalError, "generating ping payload", err)
		}
		if _, exists := h.pending[payload]; !exists {
			break
		}
	}
	done := make(chan error, 1)
	h.pending[payload] = done
	frame := &PingFrame{FrameHeader: FrameHeader{Type: FramePing}, OpaqueData: payload}
	return frame, done, nil
}

// OnAck resolves the pending ping matching payload. An ACK with no
// matching pending ping is a protocol error (spec §4.1, §4.7).
func (h *PingHandler) OnAck(payload [8]byte) error {
	done, ok := h.pending[payload]
	if !ok {
		return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("unmatched PING ack with payload %x", payload))
	}
	delete(h.pending, payload)
	close(done)
	return nil
}

// Echo builds the ACK frame we must send in response to a non-ack
// PING from the peer — same payload, ACK flag set (spec §4.1, §4.7).
func Echo(payload [8]byte) *PingFrame {
	return &PingFrame{FrameHeader: FrameHeader{Type: FramePing, Flags: FlagPingAck}, OpaqueData: payload}
}

// FailAll resolves every pending ping with err, used on termination
// (spec §5 "Cancellation").
func (h *PingHandler) FailAll(err error) {
	for payload, done := range h.pending {
		done <- err
		close(done)
		delete(h.pending, payload)
	}
}
