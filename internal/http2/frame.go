package http2

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies the kind of an HTTP/2 frame (RFC 7540 §6).
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameHeaders:
		return "HEADERS"
	case FramePriority:
		return "PRIORITY"
	case FrameRSTStream:
		return "RST_STREAM"
	case FrameSettings:
		return "SETTINGS"
	case FramePushPromise:
		return "PUSH_PROMISE"
	case FramePing:
		return "PING"
	case FrameGoAway:
		return "GOAWAY"
	case FrameWindowUpdate:
		return "WINDOW_UPDATE"
	case FrameContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint8(t))
	}
}

// Flags holds the one-octet flags field common to every frame header.
// Bit meanings are frame-type-specific; see the FlagXxx constants below.
type Flags uint8

const (
	FlagDataEndStream Flags = 0x1
	FlagDataPadded    Flags = 0x8

	FlagHeadersEndStream  Flags = 0x1
	FlagHeadersEndHeaders Flags = 0x4
	FlagHeadersPadded     Flags = 0x8
	FlagHeadersPriority   Flags = 0x20

	FlagSettingsAck Flags = 0x1

	FlagPingAck Flags = 0x1

	FlagContinuationEndHeaders Flags = 0x4

	FlagPushPromiseEndHeaders Flags = 0x4
	FlagPushPromisePadded     Flags = 0x8
)

// SettingID names a SETTINGS parameter (RFC 7540 §6.5.2).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

func (s SettingID) String() string {
	switch s {
	case SettingHeaderTableSize:
		return "SETTINGS_HEADER_TABLE_SIZE"
	case SettingEnablePush:
		return "SETTINGS_ENABLE_PUSH"
	case SettingMaxConcurrentStreams:
		return "SETTINGS_MAX_CONCURRENT_STREAMS"
	case SettingInitialWindowSize:
		return "SETTINGS_INITIAL_WINDOW_SIZE"
	case SettingMaxFrameSize:
		return "SETTINGS_MAX_FRAME_SIZE"
	case SettingMaxHeaderListSize:
		return "SETTINGS_MAX_HEADER_LIST_SIZE"
	default:
		return fmt.Sprintf("UNKNOWN_SETTING_ID_%d", uint16(s))
	}
}

const (
	// DefaultMaxFrameSize is the floor of the legal SETTINGS_MAX_FRAME_SIZE
	// range (2^14..2^24-1); every endpoint must accept frames up to this
	// size regardless of what it advertises.
	DefaultMaxFrameSize uint32 = 16384
	MaxAllowedFrameSize uint32 = (1 << 24) - 1
	MinAllowedFrameSize uint32 = 16384

	FrameHeaderLen = 9

	DefaultInitialWindowSize uint32 = 65535
	DefaultEnablePush        uint32 = 1
)

// FrameHeader is the 9-octet header shared by every frame type.
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     FrameType
	Flags    Flags
	StreamID uint32 // 31 bits; the reserved bit is always masked to 0

	raw [FrameHeaderLen]byte
}

func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var fh FrameHeader
	if _, err := io.ReadFull(r, fh.raw[:]); err != nil {
		return FrameHeader{}, err
	}
	fh.Length = uint32(fh.raw[0])<<16 | uint32(fh.raw[1])<<8 | uint32(fh.raw[2])
	fh.Type = FrameType(fh.raw[3])
	fh.Flags = Flags(fh.raw[4])
	fh.StreamID = binary.BigEndian.Uint32(fh.raw[5:]) & 0x7FFFFFFF
	return fh, nil
}

func (fh *FrameHeader) WriteTo(w io.Writer) (int64, error) {
	fh.raw[0] = byte(fh.Length >> 16)
	fh.raw[1] = byte(fh.Length >> 8)
	fh.raw[2] = byte(fh.Length)
	fh.raw[3] = byte(fh.Type)
	fh.raw[4] = byte(fh.Flags)
	binary.BigEndian.PutUint32(fh.raw[5:9], fh.StreamID&0x7FFFFFFF)
	n, err := w.Write(fh.raw[:])
	return int64(n), err
}

// Frame is satisfied by every concrete frame type. ParsePayload reads
// the body that follows a FrameHeader already consumed by the caller;
// PayloadLen must match exactly what WritePayload writes, since
// WriteFrame trusts it to fill in the header's Length field first.
type Frame interface {
	Header() *FrameHeader
	ParsePayload(r io.Reader, header FrameHeader) error
	WritePayload(w io.Writer) (int64, error)
	PayloadLen() uint32
}

// readPadLength consumes the one-octet PadLength field shared by DATA,
// HEADERS, and PUSH_PROMISE when the PADDED flag is set, validating it
// against the remaining declared payload (RFC 7540 §6.1/6.2/6.6). It
// returns the pad length and the payload bytes left after that field.
func readPadLength(r io.Reader, remaining uint32, streamID uint32) (uint8, uint32, error) {
	if remaining == 0 {
		return 0, 0, NewConnectionError(ErrCodeProtocolError,
			fmt.Sprintf("padded frame for stream %d has invalid declared payload length 0", streamID))
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, fmt.Errorf("reading pad length: %w", err)
	}
	padLen := b[0]
	remaining--
	if uint32(padLen) > remaining {
		return 0, 0, fmt.Errorf("pad length %d exceeds remaining payload length %d", padLen, remaining)
	}
	return padLen, remaining, nil
}

// DataFrame carries a stream's body octets (RFC 7540 §6.1).
type DataFrame struct {
	FrameHeader
	PadLength uint8
	Data      []byte
	Padding   []byte
}

func (f *DataFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *DataFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if header.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received DATA on stream 0")
	}

	remaining := header.Length
	padded := f.Flags&FlagDataPadded != 0
	if padded {
		padLen, rest, err := readPadLength(r, remaining, header.StreamID)
		if err != nil {
			return err
		}
		f.PadLength = padLen
		remaining = rest - uint32(padLen)
	}

	f.Data = make([]byte, remaining)
	if remaining > 0 {
		if _, err := io.ReadFull(r, f.Data); err != nil {
			return fmt.Errorf("reading DATA payload for stream %d: %w", header.StreamID, err)
		}
	}

	if padded {
		f.Padding = make([]byte, f.PadLength)
		if _, err := io.ReadFull(r, f.Padding); err != nil {
			return fmt.Errorf("reading DATA padding for stream %d: %w", header.StreamID, err)
		}
	}
	return nil
}

func (f *DataFrame) WritePayload(w io.Writer) (int64, error) {
	var total int64
	if f.Flags&FlagDataPadded != 0 {
		n, err := w.Write([]byte{f.PadLength})
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	n, err := w.Write(f.Data)
	total += int64(n)
	if err != nil {
		return total, err
	}
	if f.Flags&FlagDataPadded != 0 {
		n, err = w.Write(f.Padding)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *DataFrame) PayloadLen() uint32 {
	length := uint32(len(f.Data))
	if f.Flags&FlagDataPadded != 0 {
		length += 1 + uint32(f.PadLength)
	}
	return length
}

// HeadersFrame opens or continues a stream's header block (RFC 7540 §6.2).
type HeadersFrame struct {
	FrameHeader
	PadLength           uint8
	Exclusive           bool
	StreamDependency    uint32 // 31 bits
	Weight              uint8
	HeaderBlockFragment []byte
	Padding             []byte
}

func (f *HeadersFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *HeadersFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	remaining := f.Length

	padded := f.Flags&FlagHeadersPadded != 0
	if padded {
		padLen, rest, err := readPadLength(r, remaining, header.StreamID)
		if err != nil {
			return err
		}
		f.PadLength = padLen
		remaining = rest
	}

	if f.Flags&FlagHeadersPriority != 0 {
		if remaining < 5 {
			return fmt.Errorf("payload too short for priority fields: %d", remaining)
		}
		var buf [5]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return fmt.Errorf("reading priority fields: %w", err)
		}
		depAndE := binary.BigEndian.Uint32(buf[0:4])
		f.Exclusive = depAndE>>31 == 1
		f.StreamDependency = depAndE & 0x7FFFFFFF
		f.Weight = buf[4]
		remaining -= 5
	}

	if padded {
		remaining -= uint32(f.PadLength)
	}
	f.HeaderBlockFragment = make([]byte, remaining)
	if _, err := io.ReadFull(r, f.HeaderBlockFragment); err != nil {
		return fmt.Errorf("reading header block fragment: %w", err)
	}

	if padded {
		f.Padding = make([]byte, f.PadLength)
		if _, err := io.ReadFull(r, f.Padding); err != nil {
			return fmt.Errorf("reading padding: %w", err)
		}
	}
	return nil
}

func (f *HeadersFrame) WritePayload(w io.Writer) (int64, error) {
	var total int64
	if f.Flags&FlagHeadersPadded != 0 {
		n, err := w.Write([]byte{f.PadLength})
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	if f.Flags&FlagHeadersPriority != 0 {
		var buf [5]byte
		depAndE := f.StreamDependency
		if f.Exclusive {
			depAndE |= 1 << 31
		}
		binary.BigEndian.PutUint32(buf[0:4], depAndE)
		buf[4] = f.Weight
		n, err := w.Write(buf[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	n, err := w.Write(f.HeaderBlockFragment)
	total += int64(n)
	if err != nil {
		return total, err
	}
	if f.Flags&FlagHeadersPadded != 0 {
		n, err = w.Write(f.Padding)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *HeadersFrame) PayloadLen() uint32 {
	length := uint32(len(f.HeaderBlockFragment))
	if f.Flags&FlagHeadersPadded != 0 {
		length += 1 + uint32(f.PadLength)
	}
	if f.Flags&FlagHeadersPriority != 0 {
		length += 5
	}
	return length
}

// PriorityFrame carries stream-dependency weighting (RFC 7540 §6.3).
type PriorityFrame struct {
	FrameHeader
	Exclusive        bool
	StreamDependency uint32 // 31 bits
	Weight           uint8
}

func (f *PriorityFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *PriorityFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if f.Length != 5 {
		msg := fmt.Sprintf("PRIORITY frame payload must be 5 bytes, got %d", f.Length)
		if header.StreamID == 0 {
			return NewConnectionError(ErrCodeFrameSizeError, msg)
		}
		return NewStreamError(header.StreamID, ErrCodeFrameSizeError, msg)
	}
	var buf [5]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("reading PRIORITY payload: %w", err)
	}
	depAndE := binary.BigEndian.Uint32(buf[0:4])
	f.Exclusive = depAndE>>31 == 1
	f.StreamDependency = depAndE & 0x7FFFFFFF
	f.Weight = buf[4]
	return nil
}

func (f *PriorityFrame) WritePayload(w io.Writer) (int64, error) {
	var buf [5]byte
	depAndE := f.StreamDependency
	if f.Exclusive {
		depAndE |= 1 << 31
	}
	binary.BigEndian.PutUint32(buf[0:4], depAndE)
	buf[4] = f.Weight
	n, err := w.Write(buf[:])
	return int64(n), err
}

func (f *PriorityFrame) PayloadLen() uint32 { return 5 }

// RSTStreamFrame aborts a stream immediately (RFC 7540 §6.4).
type RSTStreamFrame struct {
	FrameHeader
	ErrorCode ErrorCode
}

func (f *RSTStreamFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *RSTStreamFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if f.Length != 4 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("RST_STREAM frame payload must be 4 bytes, got %d", f.Length))
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("reading RST_STREAM error code: %w", err)
	}
	f.ErrorCode = ErrorCode(binary.BigEndian.Uint32(buf[:]))
	return nil
}

func (f *RSTStreamFrame) WritePayload(w io.Writer) (int64, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(f.ErrorCode))
	n, err := w.Write(buf[:])
	return int64(n), err
}

func (f *RSTStreamFrame) PayloadLen() uint32 { return 4 }

// Setting is one (identifier, value) pair inside a SETTINGS frame.
type Setting struct {
	ID    SettingID
	Value uint32
}

const settingEntrySize = 6 // 2-byte ID + 4-byte value

// SettingsFrame negotiates connection parameters (RFC 7540 §6.5).
type SettingsFrame struct {
	FrameHeader
	Settings []Setting
}

func (f *SettingsFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *SettingsFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if f.Flags&FlagSettingsAck != 0 && f.Length != 0 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("SETTINGS ACK frame must have a payload length of 0, got %d", f.Length))
	}
	if f.Length%settingEntrySize != 0 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("SETTINGS frame payload length %d is not a multiple of %d", f.Length, settingEntrySize))
	}

	buf := make([]byte, f.Length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("reading SETTINGS payload: %w", err)
	}

	f.Settings = make([]Setting, 0, f.Length/settingEntrySize)
	for offset := 0; offset < len(buf); offset += settingEntrySize {
		f.Settings = append(f.Settings, Setting{
			ID:    SettingID(binary.BigEndian.Uint16(buf[offset:])),
			Value: binary.BigEndian.Uint32(buf[offset+2:]),
		})
	}
	return nil
}

func (f *SettingsFrame) WritePayload(w io.Writer) (int64, error) {
	if f.Flags&FlagSettingsAck != 0 {
		return 0, nil
	}
	var total int64
	buf := make([]byte, settingEntrySize)
	for _, s := range f.Settings {
		binary.BigEndian.PutUint16(buf[0:2], uint16(s.ID))
		binary.BigEndian.PutUint32(buf[2:6], s.Value)
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *SettingsFrame) PayloadLen() uint32 {
	if f.Flags&FlagSettingsAck != 0 {
		return 0
	}
	return uint32(len(f.Settings) * settingEntrySize)
}

// PushPromiseFrame announces a server-initiated stream (RFC 7540 §6.6).
type PushPromiseFrame struct {
	FrameHeader
	PadLength           uint8
	PromisedStreamID    uint32 // 31 bits
	HeaderBlockFragment []byte
	Padding             []byte
}

func (f *PushPromiseFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *PushPromiseFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if header.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received PUSH_PROMISE on stream 0")
	}
	remaining := f.Length

	padded := f.Flags&FlagPushPromisePadded != 0
	if padded {
		padLen, rest, err := readPadLength(r, remaining, header.StreamID)
		if err != nil {
			return err
		}
		f.PadLength = padLen
		remaining = rest
	}

	if remaining < 4 {
		return fmt.Errorf("payload too short for PromisedStreamID: %d", remaining)
	}
	var idBuf [4]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return fmt.Errorf("reading promised stream ID: %w", err)
	}
	f.PromisedStreamID = binary.BigEndian.Uint32(idBuf[:]) & 0x7FFFFFFF
	remaining -= 4

	if padded {
		remaining -= uint32(f.PadLength)
	}
	f.HeaderBlockFragment = make([]byte, remaining)
	if _, err := io.ReadFull(r, f.HeaderBlockFragment); err != nil {
		return fmt.Errorf("reading header block fragment: %w", err)
	}

	if padded {
		f.Padding = make([]byte, f.PadLength)
		if _, err := io.ReadFull(r, f.Padding); err != nil {
			return fmt.Errorf("reading padding: %w", err)
		}
	}
	return nil
}

func (f *PushPromiseFrame) WritePayload(w io.Writer) (int64, error) {
	var total int64
	if f.Flags&FlagPushPromisePadded != 0 {
		n, err := w.Write([]byte{f.PadLength})
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], f.PromisedStreamID&0x7FFFFFFF)
	n, err := w.Write(idBuf[:])
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(f.HeaderBlockFragment)
	total += int64(n)
	if err != nil {
		return total, err
	}
	if f.Flags&FlagPushPromisePadded != 0 {
		n, err = w.Write(f.Padding)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *PushPromiseFrame) PayloadLen() uint32 {
	length := 4 + uint32(len(f.HeaderBlockFragment))
	if f.Flags&FlagPushPromisePadded != 0 {
		length += 1 + uint32(f.PadLength)
	}
	return length
}

// PingFrame measures round-trip time and confirms a connection is
// live (RFC 7540 §6.7). Building the ACK reply is Echo's job
// (ping.go), not this file's.
type PingFrame struct {
	FrameHeader
	OpaqueData [8]byte
}

func (f *PingFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *PingFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if f.Length != 8 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("PING frame payload must be 8 bytes, got %d", f.Length))
	}
	if _, err := io.ReadFull(r, f.OpaqueData[:]); err != nil {
		return fmt.Errorf("reading PING opaque data: %w", err)
	}
	return nil
}

func (f *PingFrame) WritePayload(w io.Writer) (int64, error) {
	n, err := w.Write(f.OpaqueData[:])
	return int64(n), err
}

func (f *PingFrame) PayloadLen() uint32 { return 8 }

// GoAwayFrame announces that the sender will not initiate or accept
// any new streams beyond LastStreamID (RFC 7540 §6.8).
type GoAwayFrame struct {
	FrameHeader
	LastStreamID        uint32 // 31 bits
	ErrorCode           ErrorCode
	AdditionalDebugData []byte
}

func (f *GoAwayFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *GoAwayFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if f.Length < 8 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("GOAWAY frame payload must be at least 8 bytes, got %d", f.Length))
	}
	var fixed [8]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return fmt.Errorf("reading GOAWAY fixed part: %w", err)
	}
	f.LastStreamID = binary.BigEndian.Uint32(fixed[0:4]) & 0x7FFFFFFF
	f.ErrorCode = ErrorCode(binary.BigEndian.Uint32(fixed[4:8]))

	f.AdditionalDebugData = make([]byte, f.Length-8)
	if len(f.AdditionalDebugData) > 0 {
		if _, err := io.ReadFull(r, f.AdditionalDebugData); err != nil {
			return fmt.Errorf("reading GOAWAY debug data: %w", err)
		}
	}
	return nil
}

func (f *GoAwayFrame) WritePayload(w io.Writer) (int64, error) {
	var fixed [8]byte
	binary.BigEndian.PutUint32(fixed[0:4], f.LastStreamID&0x7FFFFFFF)
	binary.BigEndian.PutUint32(fixed[4:8], uint32(f.ErrorCode))
	total, err := w.Write(fixed[:])
	if err != nil {
		return int64(total), err
	}
	if len(f.AdditionalDebugData) > 0 {
		n, err := w.Write(f.AdditionalDebugData)
		total += n
		if err != nil {
			return int64(total), err
		}
	}
	return int64(total), nil
}

func (f *GoAwayFrame) PayloadLen() uint32 {
	return 8 + uint32(len(f.AdditionalDebugData))
}

// WindowUpdateFrame grants additional flow-control credit (RFC 7540 §6.9).
type WindowUpdateFrame struct {
	FrameHeader
	WindowSizeIncrement uint32 // 31 bits
}

func (f *WindowUpdateFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *WindowUpdateFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if f.Length != 4 {
		return NewConnectionError(ErrCodeFrameSizeError, fmt.Sprintf("WINDOW_UPDATE frame payload must be 4 bytes, got %d", f.Length))
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("reading WINDOW_UPDATE increment: %w", err)
	}
	f.WindowSizeIncrement = binary.BigEndian.Uint32(buf[:]) & 0x7FFFFFFF
	// A zero increment is rejected above the frame layer, by
	// OutgoingWindowHandler.ApplyWindowUpdate, as a FLOW_CONTROL_ERROR
	// scoped to the stream or the connection the update targets.
	return nil
}

func (f *WindowUpdateFrame) WritePayload(w io.Writer) (int64, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], f.WindowSizeIncrement&0x7FFFFFFF)
	n, err := w.Write(buf[:])
	return int64(n), err
}

func (f *WindowUpdateFrame) PayloadLen() uint32 { return 4 }

// ContinuationFrame extends a HEADERS or PUSH_PROMISE header block that
// didn't fit in one frame (RFC 7540 §6.10).
type ContinuationFrame struct {
	FrameHeader
	HeaderBlockFragment []byte
}

func (f *ContinuationFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *ContinuationFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	if header.StreamID == 0 {
		return NewConnectionError(ErrCodeProtocolError, "received CONTINUATION on stream 0")
	}
	f.HeaderBlockFragment = make([]byte, f.Length)
	if _, err := io.ReadFull(r, f.HeaderBlockFragment); err != nil {
		return fmt.Errorf("reading CONTINUATION header block fragment: %w", err)
	}
	return nil
}

func (f *ContinuationFrame) WritePayload(w io.Writer) (int64, error) {
	n, err := w.Write(f.HeaderBlockFragment)
	return int64(n), err
}

func (f *ContinuationFrame) PayloadLen() uint32 {
	return uint32(len(f.HeaderBlockFragment))
}

// UnknownFrame holds the opaque payload of a frame type this
// implementation does not recognize. RFC 7540 §4.1 requires unknown
// types to be ignored rather than treated as a parse error; the caller
// decides what "ignored" means for its own protocol-violation checks
// (e.g. an unexpected type between a HEADERS frame and its
// CONTINUATION is still fatal at the defragmenter, regardless of
// whether the frame type itself is known).
type UnknownFrame struct {
	FrameHeader
	Payload []byte
}

func (f *UnknownFrame) Header() *FrameHeader { return &f.FrameHeader }

func (f *UnknownFrame) ParsePayload(r io.Reader, header FrameHeader) error {
	f.FrameHeader = header
	f.Payload = make([]byte, f.Length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return fmt.Errorf("reading unknown frame payload: %w", err)
	}
	return nil
}

func (f *UnknownFrame) WritePayload(w io.Writer) (int64, error) {
	n, err := w.Write(f.Payload)
	return int64(n), err
}

func (f *UnknownFrame) PayloadLen() uint32 { return uint32(len(f.Payload)) }

func newFrame(t FrameType) Frame {
	switch t {
	case FrameData:
		return &DataFrame{}
	case FrameHeaders:
		return &HeadersFrame{}
	case FramePriority:
		return &PriorityFrame{}
	case FrameRSTStream:
		return &RSTStreamFrame{}
	case FrameSettings:
		return &SettingsFrame{}
	case FramePushPromise:
		return &PushPromiseFrame{}
	case FramePing:
		return &PingFrame{}
	case FrameGoAway:
		return &GoAwayFrame{}
	case FrameWindowUpdate:
		return &WindowUpdateFrame{}
	case FrameContinuation:
		return &ContinuationFrame{}
	default:
		return &UnknownFrame{}
	}
}

// ReadFrame reads one full frame from r, rejecting any declared payload
// length over maxFrameSize before allocating for it (this endpoint's
// advertised SETTINGS_MAX_FRAME_SIZE, per spec §4.2). A *StreamError or
// *ConnectionError from ParsePayload is returned unchanged; any other
// error is wrapped with the frame type and carries no HTTP/2 error code.
// That covers io errors and the malformed-length cases ParsePayload
// reports untyped: a pad length longer than the remaining payload, and
// a HEADERS or PUSH_PROMISE payload too short for its priority or
// promised-stream fields.
func ReadFrame(r io.Reader, maxFrameSize uint32) (Frame, error) {
	fh, err := ReadFrameHeader(r)
	if err != nil {
		return nil, err
	}
	if fh.Length > maxFrameSize {
		return nil, NewConnectionError(ErrCodeFrameSizeError,
			fmt.Sprintf("frame of type %s declared length %d exceeds MAX_FRAME_SIZE %d", fh.Type, fh.Length, maxFrameSize))
	}

	frame := newFrame(fh.Type)
	if err := frame.ParsePayload(r, fh); err != nil {
		switch err.(type) {
		case *StreamError, *ConnectionError:
			return nil, err
		default:
			return nil, fmt.Errorf("parsing %s payload: %w", fh.Type, err)
		}
	}
	return frame, nil
}

// WriteFrame serializes f's header and payload to w, deriving the
// header's Length field from PayloadLen so callers never set it by hand.
func WriteFrame(w io.Writer, f Frame) error {
	header := f.Header()
	header.Length = f.PayloadLen()

	if _, err := header.WriteTo(w); err != nil {
		return fmt.Errorf("writing frame header for %s (length %d): %w", header.Type, header.Length, err)
	}

	written, err := f.WritePayload(w)
	if err != nil {
		return fmt.Errorf("writing %s payload (declared length %d): %w", header.Type, header.Length, err)
	}
	if uint32(written) != header.Length {
		return fmt.Errorf("internal: %s payload length mismatch: PayloadLen() declared %d, WritePayload() wrote %d", header.Type, header.Length, written)
	}
	return nil
}
