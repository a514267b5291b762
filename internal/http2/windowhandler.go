package http2

import "fmt"

// OutgoingWindowHandler gates writes against a peer-view window (our
// send credit) and applies WINDOW_UPDATE increments received from the
// peer (spec §4.4, C4 "outgoing"). It holds no lock and spawns no
// goroutine: it is only ever touched from the connection's single run
// loop, so the handler itself just does arithmetic; the loop decides
// what to do when credit is or isn't available.
type OutgoingWindowHandler struct {
	window   Window
	isConn   bool
	streamID uint32
}

func NewOutgoingWindowHandler(initial uint32, isConn bool, streamID uint32) *OutgoingWindowHandler {
	return &OutgoingWindowHandler{window: NewWindow(initial), isConn: isConn, streamID: streamID}
}

// Available reports the current send credit; can be negative after a
// SETTINGS-induced shrink.
func (h *OutgoingWindowHandler) Available() int64 { return h.window.Available() }

// CanSend reports whether n bytes may be sent right now.
func (h *OutgoingWindowHandler) CanSend(n uint32) bool { return h.window.CanSend(n) }

// Consume is called once a DATA frame of n bytes has actually been
// queued for the wire.
func (h *OutgoingWindowHandler) Consume(n uint32) { h.window = h.window.Consume(n) }

// ApplyWindowUpdate processes an inbound WINDOW_UPDATE increment. A
// zero increment or one that overflows MaxWindowSize is a flow
// control error (connection-scoped if this handler is the connection
// window, stream-scoped otherwise) per spec §4.1's dispatch table and
// §4.4's invariant.
func (h *OutgoingWindowHandler) ApplyWindowUpdate(increment uint32) error {
	if increment == 0 {
		msg := "WINDOW_UPDATE increment must not be 0"
		if h.isConn {
			return NewConnectionError(ErrCodeFlowControlError, msg)
		}
		return NewStreamError(h.streamID, ErrCodeFlowControlError, msg)
	}
	next, err := h.window.Add(int64(increment))
	if err != nil {
		msg := fmt.Sprintf("stream %d window update overflow", h.streamID)
		if h.isConn {
			return NewConnectionError(ErrCodeFlowControlError, msg)
		}
		return NewStreamError(h.streamID, ErrCodeFlowControlError, msg)
	}
	h.window = next
	return nil
}

// ApplyInitialWindowSizeDelta applies the delta produced by a changed
// SETTINGS_INITIAL_WINDOW_SIZE to an open stream's send window (spec
// §4.6). Never called on the connection window, which SETTINGS never
// touches directly.
func (h *OutgoingWindowHandler) ApplyInitialWindowSizeDelta(delta int64) error {
	next, err := h.window.Add(delta)
	if err != nil {
		return NewConnectionError(ErrCodeFlowControlError,
			fmt.Sprintf("INITIAL_WINDOW_SIZE delta %d would overflow stream %d window", delta, h.streamID))
	}
	h.window = next
	return nil
}

// IncomingWindowHandler tracks our local-view window as the peer's
// DATA frames consume it, and decides when to auto-replenish with a
// WINDOW_UPDATE (spec §4.4, C4 "incoming").
type IncomingWindowHandler struct {
	window             Window
	initial            uint32
	consumedUnreplied  uint32
	replenishThreshold uint32
	isConn             bool
	streamID           uint32
}

func NewIncomingWindowHandler(initial uint32, isConn bool, streamID uint32) *IncomingWindowHandler {
	return &IncomingWindowHandler{
		window:             NewWindow(initial),
		initial:            initial,
		replenishThreshold: replenishThresholdFor(initial),
		isConn:             isConn,
		streamID:           streamID,
	}
}

// replenishThresholdFor picks half the initial window as the
// implementation-chosen replenishment threshold named in spec §4.4.
func replenishThresholdFor(initial uint32) uint32 {
	t := initial / 2
	if t == 0 {
		t = initial
	}
	return t
}

// Window reports the current local-view window.
func (h *IncomingWindowHandler) Window() Window { return h.window }

// OnBytesReceived records n bytes of peer DATA accepted against the
// local window. It returns the increment to send as a WINDOW_UPDATE
// and whether one is due now. The window is immediately decremented
// regardless of whether a WINDOW_UPDATE is emitted this call.
func (h *IncomingWindowHandler) OnBytesReceived(n uint32) (increment uint32, shouldEmit bool) {
	h.window = h.window.Consume(n)
	h.consumedUnreplied += n
	if h.consumedUnreplied >= h.replenishThreshold {
		increment = h.consumedUnreplied
		h.window, _ = h.window.Add(int64(increment))
		h.consumedUnreplied = 0
		return increment, true
	}
	return 0, false
}

// UpdateInitialWindowSize re-bases the replenishment threshold when
// SETTINGS_INITIAL_WINDOW_SIZE changes; it does not itself move the
// local window (that is a peer-view concept, untouched by our own
// settings changes to what we tell the peer about stream creation).
func (h *IncomingWindowHandler) UpdateInitialWindowSize(newInitial uint32) {
	h.initial = newInitial
	h.replenishThreshold = replenishThresholdFor(newInitial)
}
