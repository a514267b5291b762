package http2

import (
	"fmt"
	"math"
)

// Unlimited is the sentinel used for settings whose RFC default is
// "no limit" (MAX_CONCURRENT_STREAMS, MAX_HEADER_LIST_SIZE).
const Unlimited uint32 = math.MaxUint32

// DefaultSettings returns the RFC 7540 Section 11.3 default values,
// used to seed both the "acknowledged" (our own) and "peer" views
// before any SETTINGS frame has been exchanged (spec §3).
func DefaultSettings() map[SettingID]uint32 {
	return map[SettingID]uint32{
		SettingHeaderTableSize:      4096,
		SettingEnablePush:           1,
		SettingMaxConcurrentStreams: Unlimited,
		SettingInitialWindowSize:    DefaultInitialWindowSize,
		SettingMaxFrameSize:         DefaultMaxFrameSize,
		SettingMaxHeaderListSize:    Unlimited,
	}
}

// pendingSettingsChange is one FIFO entry for a locally proposed
// SETTINGS change awaiting the peer's ack (spec §4.6 "local change
// flow").
type pendingSettingsChange struct {
	proposals map[SettingID]uint32
	done      chan error
}

// SettingsHandler is C6: it owns both settings views and the FIFO of
// our own in-flight proposals. Like every other component, it is
// mutated only from the connection's run loop.
type SettingsHandler struct {
	acknowledged map[SettingID]uint32 // our own settings, as acknowledged by the peer
	peer         map[SettingID]uint32 // the peer's settings, as told to us

	pending []*pendingSettingsChange
}

// NewSettingsHandler creates a handler seeded with RFC defaults on
// both views.
func NewSettingsHandler() *SettingsHandler {
	return &SettingsHandler{
		acknowledged: DefaultSettings(),
		peer:         DefaultSettings(),
	}
}

// Ours returns the current value of one of our own settings (as last
// acknowledged by the peer).
func (h *SettingsHandler) Ours(id SettingID) uint32 { return h.acknowledged[id] }

// Peer returns the current value of one of the peer's settings.
func (h *SettingsHandler) Peer(id SettingID) uint32 { return h.peer[id] }

// ProposeChange records a locally-initiated settings change and
// returns the frame to emit plus a channel that resolves (receives
// once, possibly nil) when the matching ack arrives.
func (h *SettingsHandler) ProposeChange(proposals map[SettingID]uint32) (*SettingsFrame, chan error) {
	done := make(chan error, 1)
	h.pending = append(h.pending, &pendingSettingsChange{proposals: proposals, done: done})

	settings := make([]Setting, 0, len(proposals))
	for id, v := range proposals {
		settings = append(settings, Setting{ID: id, Value: v})
	}
	frame := &SettingsFrame{
		FrameHeader: FrameHeader{Type: FrameSettings, StreamID: 0},
		Settings:    settings,
	}
	return frame, done
}

// OnAck promotes the oldest pending proposal to acknowledged and
// resolves its completion channel. Multiple in-flight proposals are
// resolved in FIFO order, one ack per SETTINGS-ack received (spec
// §4.6). An ack with no matching pending proposal is a protocol
// error.
func (h *SettingsHandler) OnAck() error {
	if len(h.pending) == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received SETTINGS ack with no pending proposal")
	}
	change := h.pending[0]
	h.pending = h.pending[1:]
	for id, v := range change.proposals {
		h.acknowledged[id] = v
	}
	close(change.done)
	return nil
}

// FailPending resolves every pending proposal with err, used when the
// connection terminates before their acks arrive.
func (h *SettingsHandler) FailPending(err error) {
	for _, change := range h.pending {
		change.done <- err
		close(change.done)
	}
	h.pending = nil
}

// ApplyPeerSettings validates and applies an inbound non-ack SETTINGS
// frame's entries to the peer view (spec §4.6 "peer change flow").
// On success it returns the ack frame to emit and, if
// INITIAL_WINDOW_SIZE changed, the signed delta (new - old) that must
// be propagated to every open stream's send window (spec §4.6, §9).
func (h *SettingsHandler) ApplyPeerSettings(settings []Setting) (ack *SettingsFrame, windowDelta *int64, err error) {
	for _, s := range settings {
		if verr := validatePeerSetting(s); verr != nil {
			return nil, nil, verr
		}
	}

	oldInitialWindow := h.peer[SettingInitialWindowSize]
	for _, s := range settings {
		h.peer[s.ID] = s.Value
	}

	ack = &SettingsFrame{
		FrameHeader: FrameHeader{Type: FrameSettings, StreamID: 0, Flags: FlagSettingsAck},
	}

	newInitialWindow, changed := findSetting(settings, SettingInitialWindowSize)
	if changed && newInitialWindow != oldInitialWindow {
		delta := int64(newInitialWindow) - int64(oldInitialWindow)
		windowDelta = &delta
	}
	return ack, windowDelta, nil
}

func findSetting(settings []Setting, id SettingID) (uint32, bool) {
	for _, s := range settings {
		if s.ID == id {
			return s.Value, true
		}
	}
	return 0, false
}

// validatePeerSetting checks a single inbound setting entry against
// the bounds in spec §4.6. Unrecognized setting IDs are accepted and
// ignored, per RFC 7540 Section 6.5.2's forward-compatibility rule.
func validatePeerSetting(s Setting) error {
	switch s.ID {
	case SettingEnablePush:
		if s.Value != 0 && s.Value != 1 {
			return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("SETTINGS_ENABLE_PUSH must be 0 or 1, got %d", s.Value))
		}
	case SettingInitialWindowSize:
		if s.Value > MaxWindowSize {
			return NewConnectionError(ErrCodeFlowControlError, fmt.Sprintf("SETTINGS_INITIAL_WINDOW_SIZE %d exceeds max %d", s.Value, MaxWindowSize))
		}
	case SettingMaxFrameSize:
		if s.Value < MinAllowedFrameSize || s.Value > MaxAllowedFrameSize {
			return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("SETTINGS_MAX_FRAME_SIZE %d out of range [%d, %d]", s.Value, MinAllowedFrameSize, MaxAllowedFrameSize))
		}
	}
	return nil
}
