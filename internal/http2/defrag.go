package http2

import "fmt"

// headerBlockAssembly holds the in-progress state of a single
// HEADERS/PUSH_PROMISE + CONTINUATION run (spec §4.5, C5). At most one
// assembly is ever in progress per connection.
type headerBlockAssembly struct {
	streamID         uint32
	initialType      FrameType // FrameHeaders or FramePushPromise
	promisedStreamID uint32    // set only if initialType == FramePushPromise
	endStream        bool      // END_STREAM carried on the opening HEADERS
	priority         *streamPriority
	fragment         []byte
}

// streamPriority mirrors the priority fields optionally carried on a
// HEADERS frame. The core only retains and forwards this data; per
// spec §1 Non-goals it never builds a dependency tree from it.
type streamPriority struct {
	Exclusive        bool
	StreamDependency uint32
	Weight           uint8
}

// Defragmenter reassembles HEADERS/PUSH_PROMISE + CONTINUATION runs
// into one synthetic header block (spec §4.5). It is owned exclusively
// by the connection's run loop.
type Defragmenter struct {
	pending *headerBlockAssembly
}

// NewDefragmenter creates an idle Defragmenter.
func NewDefragmenter() *Defragmenter { return &Defragmenter{} }

// Pending reports whether a header block assembly is in progress, and
// if so, which stream it's for.
func (d *Defragmenter) Pending() (streamID uint32, inProgress bool) {
	if d.pending == nil {
		return 0, false
	}
	return d.pending.streamID, true
}

// assembledHeaderBlock is the synthetic frame C5 yields once a header
// block run completes: the concatenated fragment plus enough of the
// opening frame's metadata for C9/C10 to treat it like a single
// HEADERS (or PUSH_PROMISE) frame with END_HEADERS set.
type assembledHeaderBlock struct {
	streamID         uint32
	initialType      FrameType
	promisedStreamID uint32
	endStream        bool
	priority         *streamPriority
	headerBlock      []byte
}

// Feed processes one inbound frame through the defragmenter. It
// returns (nil, nil) while a block is still being assembled, the
// completed block once END_HEADERS arrives, or an error if the frame
// violates the "only a matching CONTINUATION is legal while a block is
// open" rule (spec §4.1 step 3, §4.5).
//
// Feed only ever sees HEADERS, PUSH_PROMISE, and CONTINUATION frames;
// the connection controller is responsible for routing any other
// frame type to a PROTOCOL_ERROR itself when a block is pending.
func (d *Defragmenter) Feed(f Frame) (*assembledHeaderBlock, error) {
	switch frame := f.(type) {
	case *HeadersFrame:
		if d.pending != nil {
			return nil, NewConnectionError(ErrCodeProtocolError,
				fmt.Sprintf("HEADERS on stream %d received while header block for stream %d is still open", frame.StreamID, d.pending.streamID))
		}
		var prio *streamPriority
		if frame.Flags&FlagHeadersPriority != 0 {
			prio = &streamPriority{Exclusive: frame.Exclusive, StreamDependency: frame.StreamDependency, Weight: frame.Weight}
		}
		asm := &headerBlockAssembly{
			streamID:    frame.StreamID,
			initialType: FrameHeaders,
			endStream:   frame.Flags&FlagHeadersEndStream != 0,
			priority:    prio,
			fragment:    append([]byte(nil), frame.HeaderBlockFragment...),
		}
		if frame.Flags&FlagHeadersEndHeaders != 0 {
			return d.finish(asm), nil
		}
		d.pending = asm
		return nil, nil

	case *PushPromiseFrame:
		if d.pending != nil {
			return nil, NewConnectionError(ErrCodeProtocolError,
				fmt.Sprintf("PUSH_PROMISE on stream %d received while header block for stream %d is still open", frame.StreamID, d.pending.streamID))
		}
		asm := &headerBlockAssembly{
			streamID:         frame.StreamID,
			initialType:      FramePushPromise,
			promisedStreamID: frame.PromisedStreamID,
			fragment:         append([]byte(nil), frame.HeaderBlockFragment...),
		}
		if frame.Flags&FlagPushPromiseEndHeaders != 0 {
			return d.finish(asm), nil
		}
		d.pending = asm
		return nil, nil

	case *ContinuationFrame:
		if d.pending == nil {
			return nil, NewConnectionError(ErrCodeProtocolError,
				fmt.Sprintf("unexpected CONTINUATION on stream %d with no header block open", frame.StreamID))
		}
		if frame.StreamID != d.pending.streamID {
			return nil, NewConnectionError(ErrCodeProtocolError,
				fmt.Sprintf("CONTINUATION on stream %d while header block for stream %d is open", frame.StreamID, d.pending.streamID))
		}
		d.pending.fragment = append(d.pending.fragment, frame.HeaderBlockFragment...)
		if frame.Flags&FlagContinuationEndHeaders != 0 {
			asm := d.pending
			return d.finish(asm), nil
		}
		return nil, nil

	default:
		// Any other frame type arriving while a block is open is a
		// protocol error; the caller (conn.go) checks Pending() before
		// routing a non-CONTINUATION frame and never reaches here in
		// that case, but guard anyway for direct callers/tests.
		if d.pending != nil {
			return nil, NewConnectionError(ErrCodeProtocolError,
				fmt.Sprintf("frame of type %T received while header block for stream %d is open", f, d.pending.streamID))
		}
		return nil, nil
	}
}

func (d *Defragmenter) finish(asm *headerBlockAssembly) *assembledHeaderBlock {
	d.pending = nil
	return &assembledHeaderBlock{
		streamID:         asm.streamID,
		initialType:      asm.initialType,
		promisedStreamID: asm.promisedStreamID,
		endStream:        asm.endStream,
		priority:         asm.priority,
		headerBlock:      asm.fragment,
	}
}
