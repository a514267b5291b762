package http2

import "fmt"

// MaxWindowSize is the largest value a flow-control window may hold
// (2^31 - 1), per RFC 7540 Section 6.9.1.
const MaxWindowSize = (1 << 31) - 1

// Window is a signed flow-control credit. It is a pure value type: all
// arithmetic is bounds-checked and returns an error instead of
// silently wrapping, but nothing here blocks or mutates shared state
// outside of itself. The connection controller (C10) is the sole
// owner of every Window it creates; no locking is needed because
// Window values are only ever touched from the controller's run loop
// (spec §5, §9).
type Window int64

// NewWindow creates a Window initialized to size, clamped defensively
// to MaxWindowSize (validation of the setting that produced size
// happens earlier, in the settings handler).
func NewWindow(size uint32) Window {
	if size > MaxWindowSize {
		size = MaxWindowSize
	}
	return Window(size)
}

// Add applies a signed delta (e.g. a WINDOW_UPDATE increment, or an
// INITIAL_WINDOW_SIZE change propagated to an open stream) and
// returns the resulting Window. An overflow past MaxWindowSize is a
// flow-control error; going negative is legal (a SETTINGS-induced
// shrink can drive a window negative, RFC 7540 §6.9.2) and is not an
// error by itself.
func (w Window) Add(delta int64) (Window, error) {
	next := int64(w) + delta
	if next > int64(MaxWindowSize) {
		return w, NewConnectionError(ErrCodeFlowControlError,
			fmt.Sprintf("window overflow: %d + %d = %d exceeds max %d", int64(w), delta, next, MaxWindowSize))
	}
	return Window(next), nil
}

// Consume reduces the window by n. It performs no bounds check of its
// own; the result may be negative.
func (w Window) Consume(n uint32) Window {
	return Window(int64(w) - int64(n))
}

// Available reports the current credit. It can be negative after a
// SETTINGS-induced shrink.
func (w Window) Available() int64 {
	return int64(w)
}

// CanSend reports whether n bytes may be sent against this window
// right now.
func (w Window) CanSend(n uint32) bool {
	return int64(w) >= int64(n)
}
