package http2

import (
	"context"
	"fmt"
)

// StreamState is a stream's position in the RFC 7540 Section 5.1 state
// machine. Spec §4.9 treats the transition diagram itself as a black
// box; we only need enough of it to honor the externally observable
// contract: every message carries an explicit end-stream flag, and a
// terminal state releases the ID and frees window credit.
type StreamState uint8

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamReservedLocal:
		return "reserved(local)"
	case StreamReservedRemote:
		return "reserved(remote)"
	case StreamOpen:
		return "open"
	case StreamHalfClosedLocal:
		return "half-closed(local)"
	case StreamHalfClosedRemote:
		return "half-closed(remote)"
	case StreamClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// HeaderField is a single decoded/encoded header name-value pair,
// shared between the stream event contract and the HPACK context.
type HeaderField struct {
	Name      string
	Value     string
	Sensitive bool
}

// StreamEventKind discriminates the lazy sequence of message frames a
// stream yields to the application per spec §6.
type StreamEventKind uint8

const (
	EventHeaders StreamEventKind = iota
	EventData
	EventTrailers
	EventReset
)

// StreamEvent is one element of a stream's inbound event sequence.
type StreamEvent struct {
	Kind      StreamEventKind
	Headers   []HeaderField
	Data      []byte
	EndStream bool
	ErrorCode ErrorCode // set only for EventReset
}

// pendingWrite is one queued outbound message awaiting C8's outgoing
// queue to drain it against the connection and stream windows.
type pendingWrite struct {
	data      []byte
	sent      int
	endStream bool
	done      chan error
}

// Stream is a single HTTP/2 stream's state machine, registry entry,
// and message queues (spec §3, §4.9). It holds a non-owning back
// pointer to its Connection (spec §9: "arena-and-index or
// parent-owned children with non-owning handles — never mutual
// ownership"); the Connection's stream map is the only thing that
// keeps a Stream alive.
type Stream struct {
	id    uint32
	state StreamState
	conn  *Connection

	sendWindow *OutgoingWindowHandler
	recvWindow *IncomingWindowHandler

	events chan *StreamEvent
	outbox []*pendingWrite

	endStreamSent bool
	endStreamRecv bool
	surfaced      bool // whether this peer-initiated stream has already been handed to Connection.incoming

	ctx    context.Context
	cancel context.CancelFunc
}

// streamEventBuffer bounds how many undelivered inbound events a
// stream will hold before the connection's run loop must stop
// delivering more until the application drains them. Generous enough
// that ordinary request/response traffic never blocks on it.
const streamEventBuffer = 64

func newStream(id uint32, conn *Connection, initialSendWindow, initialRecvWindow uint32, state StreamState) *Stream {
	ctx, cancel := context.WithCancel(conn.ctx)
	return &Stream{
		id:         id,
		state:      state,
		conn:       conn,
		sendWindow: NewOutgoingWindowHandler(initialSendWindow, false, id),
		recvWindow: NewIncomingWindowHandler(initialRecvWindow, false, id),
		events:     make(chan *StreamEvent, streamEventBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint32 { return s.id }

// State returns the stream's current state.
func (s *Stream) State() StreamState { return s.state }

// Context is cancelled when the stream reaches StreamClosed, so
// outbound writers blocked on window credit can observe a concurrent
// reset or connection shutdown (spec §9's "Stream context
// cancellation").
func (s *Stream) Context() context.Context { return s.ctx }

// Events returns the stream's inbound lazy sequence of message frames
// (spec §6). The channel is closed once the stream reaches
// StreamClosed and every buffered event has been delivered.
func (s *Stream) Events() <-chan *StreamEvent { return s.events }

// deliver pushes an event to the application side. Per-stream back
// pressure (spec §4.9) would otherwise let one slow consumer stall the
// single run loop; a consumer that cannot keep up with
// streamEventBuffer undelivered events is instead treated as having
// abandoned the stream.
func (s *Stream) deliver(ev *StreamEvent) {
	select {
	case s.events <- ev:
	default:
		s.resetLocally(ErrCodeCancel)
	}
}

// isOpenForSend reports whether the stream may still accept outbound
// application data.
func (s *Stream) isOpenForSend() bool {
	switch s.state {
	case StreamOpen, StreamHalfClosedRemote, StreamReservedLocal:
		return true
	default:
		return false
	}
}

// transitionOnSendEndStream moves the state machine forward after we
// have sent our own END_STREAM.
func (s *Stream) transitionOnSendEndStream() {
	s.endStreamSent = true
	switch s.state {
	case StreamOpen:
		s.setState(StreamHalfClosedLocal)
	case StreamHalfClosedRemote:
		s.setState(StreamClosed)
	case StreamReservedLocal:
		s.setState(StreamHalfClosedLocal)
	}
}

// transitionOnRecvEndStream moves the state machine forward after the
// peer's END_STREAM has been observed.
func (s *Stream) transitionOnRecvEndStream() {
	s.endStreamRecv = true
	switch s.state {
	case StreamOpen:
		s.setState(StreamHalfClosedRemote)
	case StreamHalfClosedLocal:
		s.setState(StreamClosed)
	case StreamReservedRemote:
		s.setState(StreamHalfClosedRemote)
	}
}

func (s *Stream) setState(newState StreamState) {
	s.state = newState
	if newState == StreamClosed {
		s.cancel()
		close(s.events)
		s.conn.registry.release(s)
	}
}

// resetLocally marks the stream closed and queues an RST_STREAM for
// the writer, used both for application-initiated cancellation and
// for the "consumer fell behind" guard in deliver.
func (s *Stream) resetLocally(code ErrorCode) {
	if s.state == StreamClosed {
		return
	}
	s.conn.enqueueControlFrame(GenerateRSTStreamFrame(s.id, code, nil))
	s.setState(StreamClosed)
}

// StreamRegistry is C9: it owns every stream by ID, allocates new
// local IDs with role-correct parity, and routes inbound frames to the
// right stream (spec §4.9). Like every other component it is mutated
// only by the connection's run loop.
type StreamRegistry struct {
	conn   *Connection
	role   Role
	byID   map[uint32]*Stream
	nextID uint32

	highestPeerStreamID uint32
	highestProcessedID  uint32 // highest peer-initiated stream id we have acknowledged (for GOAWAY)

	localCount int
	peerCount  int
}

func newStreamRegistry(conn *Connection, role Role) *StreamRegistry {
	first := uint32(1)
	if role == RoleServer {
		first = 2
	}
	return &StreamRegistry{
		conn:   conn,
		role:   role,
		byID:   make(map[uint32]*Stream),
		nextID: first,
	}
}

func (r *StreamRegistry) get(id uint32) (*Stream, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *StreamRegistry) release(s *Stream) {
	if _, ok := r.byID[s.id]; !ok {
		return
	}
	delete(r.byID, s.id)
	if r.isLocalID(s.id) {
		r.localCount--
	} else {
		r.peerCount--
	}
}

func (r *StreamRegistry) isLocalID(id uint32) bool {
	if r.role == RoleClient {
		return id%2 == 1
	}
	return id%2 == 0
}

// AllocateLocal creates a new locally-initiated stream in StreamOpen
// (or StreamReservedLocal, for a future server push), enforcing the
// peer's MAX_CONCURRENT_STREAMS and the Operational-only rule (spec
// §4.9).
func (r *StreamRegistry) AllocateLocal(reserved bool) (*Stream, error) {
	if r.conn.state != StateOperational {
		return nil, NewConnectionError(ErrCodeProtocolError, "cannot create a stream outside the Operational state")
	}
	if r.conn.finishing {
		return nil, NewConnectionError(ErrCodeRefusedStream, "connection is finishing, refusing new local stream")
	}
	maxConcurrent := r.conn.settings.Peer(SettingMaxConcurrentStreams)
	if maxConcurrent != Unlimited && uint32(r.localCount) >= maxConcurrent {
		return nil, NewConnectionError(ErrCodeRefusedStream, "MAX_CONCURRENT_STREAMS exceeded for locally-initiated streams")
	}

	id := r.nextID
	r.nextID += 2

	state := StreamOpen
	if reserved {
		state = StreamReservedLocal
	}
	s := newStream(id, r.conn, r.conn.settings.Peer(SettingInitialWindowSize), r.conn.settings.Ours(SettingInitialWindowSize), state)
	r.byID[id] = s
	r.localCount++
	return s, nil
}

// Route returns the stream that frame F (stream-id S, already known
// non-zero) belongs to, creating a new peer-initiated stream first if
// needed (spec §4.9's routing rules). Delivering F is the caller's job.
func (r *StreamRegistry) Route(streamID uint32, frameType FrameType) (*Stream, error) {
	if s, ok := r.byID[streamID]; ok {
		return s, nil
	}

	// Unknown stream ID: legal only if it's a new peer-initiated ID,
	// monotonically greater than any peer-initiated ID seen so far,
	// carried on a frame type allowed to open a stream.
	if r.isLocalID(streamID) {
		return nil, NewConnectionError(ErrCodeProtocolError,
			fmt.Sprintf("frame for unknown locally-numbered stream %d", streamID))
	}
	if r.highestPeerStreamID != 0 && streamID <= r.highestPeerStreamID {
		return nil, NewConnectionError(ErrCodeProtocolError,
			fmt.Sprintf("peer stream id %d is not greater than previously seen %d", streamID, r.highestPeerStreamID))
	}

	opensStream := frameType == FrameHeaders
	pushPromise := frameType == FramePushPromise && r.role == RoleClient
	if !opensStream && !pushPromise {
		return nil, NewConnectionError(ErrCodeProtocolError,
			fmt.Sprintf("frame type %s cannot open new stream %d", frameType, streamID))
	}

	if r.conn.finishing {
		r.highestPeerStreamID = streamID
		r.conn.enqueueControlFrame(GenerateRSTStreamFrame(streamID, ErrCodeRefusedStream, nil))
		return nil, ErrTerminated
	}

	maxConcurrent := r.conn.settings.Ours(SettingMaxConcurrentStreams)
	if maxConcurrent != Unlimited && uint32(r.peerCount) >= maxConcurrent {
		r.highestPeerStreamID = streamID
		r.conn.enqueueControlFrame(GenerateRSTStreamFrame(streamID, ErrCodeRefusedStream, nil))
		return nil, ErrTerminated
	}

	state := StreamOpen
	if pushPromise {
		state = StreamReservedRemote
	}
	s := newStream(streamID, r.conn, r.conn.settings.Peer(SettingInitialWindowSize), r.conn.settings.Ours(SettingInitialWindowSize), state)
	r.byID[streamID] = s
	r.peerCount++
	r.highestPeerStreamID = streamID
	r.highestProcessedID = streamID
	return s, nil
}

// ForEach iterates every currently live stream, used by the settings
// handler to propagate an INITIAL_WINDOW_SIZE delta (spec §4.6).
func (r *StreamRegistry) ForEach(fn func(*Stream)) {
	for _, s := range r.byID {
		fn(s)
	}
}

// HighestProcessed returns the highest peer-initiated stream ID this
// endpoint has accepted, used as GOAWAY's last-stream-id on a graceful
// finish (spec §4.1 "finish()").
func (r *StreamRegistry) HighestProcessed() uint32 { return r.highestProcessedID }

// ResetAll forcibly closes every live stream, used during terminate().
func (r *StreamRegistry) ResetAll(err error) {
	for _, s := range r.byID {
		s.deliver(&StreamEvent{Kind: EventReset, ErrorCode: classify(err)})
		s.setState(StreamClosed)
	}
}
