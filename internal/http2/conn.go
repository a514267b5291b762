package http2

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2/hpack"

	"github.com/outervation/h2core/internal/logger"
)

// Role fixes which stream IDs this endpoint may initiate and whether
// the inbound byte stream carries the connection preface (spec §3).
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ConnState is the connection's lifecycle position (spec §3).
// Monotonic: Initialized -> Operational -> Finishing -> Terminated.
type ConnState uint8

const (
	StateInitialized ConnState = iota
	StateOperational
	StateFinishing
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateOperational:
		return "operational"
	case StateFinishing:
		return "finishing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ClientOptions configures a client-role Connection.
type ClientOptions struct {
	// AllowServerPush reports whether this client is willing to accept
	// PUSH_PROMISE frames. It decides whether an inbound PUSH_PROMISE is
	// treated as a protocol error, and sets SETTINGS_ENABLE_PUSH in our
	// own acknowledged settings view; the opening SETTINGS frame is
	// always empty, so the value is not sent to the peer.
	AllowServerPush bool
	Log             *zerolog.Logger
}

// ServerOptions configures a server-role Connection.
type ServerOptions struct {
	Log *zerolog.Logger
}

// frameOrErr is what the reader goroutine hands to the run loop: one
// parsed frame, or a terminal transport/protocol error that ends the
// read side.
type frameOrErr struct {
	frame Frame
	err   error
}

// Connection is C10: it owns lifecycle state and every other
// component (C2-C9), and is the sole mutator of all of it. All
// mutation happens inside run(), a single goroutine — per spec §5,
// "no lock is required within one connection" because every external
// call (ping, finish, terminate, a stream write) is turned into a
// closure and serialized onto that same goroutine, in the style of a
// classic single-loop actor connection (compare
// other_examples/bradfitz-http2__conn.go's run()).
type Connection struct {
	duplex Duplex
	role   Role
	log    zerolog.Logger

	allowServerPush bool

	ctx    context.Context
	cancel context.CancelFunc

	state     ConnState
	finishing bool // true from finish() or a received GOAWAY, even before state fully settles
	connError error

	settings *SettingsHandler
	hpack    *HeaderCodec
	defrag   *Defragmenter
	ping     *PingHandler
	registry *StreamRegistry

	outWindow *OutgoingWindowHandler
	inWindow  *IncomingWindowHandler

	outboundQ   *OutboundQueue
	inboundData *InboundDataHandler

	incoming chan *Stream // peer-initiated streams surfaced to the application

	actions    chan func()
	frames     chan frameOrErr
	writeCh    chan Frame
	readerDone chan struct{}
	writerDone chan struct{}
	closed     chan struct{} // closed once run() has fully exited

	ourMaxFrameSize atomic.Uint32 // read by the reader goroutine without locking
}

// NewClient creates a client-role Connection. It writes the 24-octet
// preface immediately, before any frame (spec §4.1, §6).
func NewClient(duplex Duplex, opts ClientOptions) (*Connection, error) {
	c := newConnection(duplex, RoleClient, opts.Log)
	c.allowServerPush = opts.AllowServerPush
	push := uint32(0)
	if opts.AllowServerPush {
		push = 1
	}
	c.settings.acknowledged[SettingEnablePush] = push

	if _, err := duplex.Write([]byte(ClientPreface)); err != nil {
		return nil, NewTransportError("writing connection preface", err)
	}
	c.start(false)
	return c, nil
}

// NewServer creates a server-role Connection. The preface is consumed
// and validated from the inbound side before any frame is processed
// (spec §4.1, §6).
func NewServer(duplex Duplex, opts ServerOptions) (*Connection, error) {
	c := newConnection(duplex, RoleServer, opts.Log)
	c.start(true)
	return c, nil
}

func newConnection(duplex Duplex, role Role, log *zerolog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		duplex:     duplex,
		role:       role,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateInitialized,
		settings:   NewSettingsHandler(),
		hpack:      NewHeaderCodec(DefaultSettings()[SettingHeaderTableSize]),
		defrag:     NewDefragmenter(),
		ping:       NewPingHandler(),
		outWindow:  NewOutgoingWindowHandler(DefaultInitialWindowSize, true, 0),
		inWindow:   NewIncomingWindowHandler(DefaultInitialWindowSize, true, 0),
		incoming:   make(chan *Stream, 16),
		actions:    make(chan func(), 64),
		frames:     make(chan frameOrErr, 64),
		writeCh:    make(chan Frame, 256),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	if log != nil {
		c.log = *log
	} else {
		c.log = *logger.Nop()
	}
	c.registry = newStreamRegistry(c, role)
	c.outboundQ = NewOutboundQueue(c)
	c.inboundData = NewInboundDataHandler(c)
	c.ourMaxFrameSize.Store(DefaultMaxFrameSize)
	return c
}

// start launches the reader, writer, and actor-loop goroutines and
// queues our own opening SETTINGS frame ahead of anything else we
// might send (spec §4.1's handshake example: preface, then an empty
// SETTINGS frame, emitted by both roles without waiting on the peer).
// Routed through ProposeChange, not written to writeCh directly, so
// the peer's eventual ack has a pending entry to resolve against
// instead of tripping settings.OnAck's "no pending proposal" check.
// Nothing needs to observe completion: an empty proposal set has
// nothing to move into c.settings.acknowledged that isn't already
// there.
func (c *Connection) start(expectPreface bool) {
	frame, _ := c.settings.ProposeChange(map[SettingID]uint32{})
	c.writeCh <- frame
	go c.readLoop(expectPreface)
	go c.writeLoop()
	go c.run()
}

// readLoop is the only goroutine that reads the duplex. It hands every
// parsed frame (or terminal error) to the run loop via c.frames.
func (c *Connection) readLoop(expectPreface bool) {
	defer close(c.readerDone)
	if expectPreface {
		buf := make([]byte, ClientPrefaceLen)
		if _, err := readFull(c.duplex, buf); err != nil {
			c.frames <- frameOrErr{err: NewTransportError("reading connection preface", err)}
			return
		}
		if string(buf) != ClientPreface {
			c.frames <- frameOrErr{err: NewConnectionError(ErrCodeProtocolError, "invalid connection preface")}
			return
		}
	}
	for {
		f, err := ReadFrame(c.duplex, c.ourMaxFrameSize.Load())
		if err != nil {
			c.frames <- frameOrErr{err: classifyReadError(err)}
			return
		}
		select {
		case c.frames <- frameOrErr{frame: f}:
		case <-c.ctx.Done():
			return
		}
	}
}

func classifyReadError(err error) error {
	switch err.(type) {
	case *ConnectionError, *StreamError:
		return err
	default:
		return NewTransportError("reading frame", err)
	}
}

func readFull(d Duplex, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := d.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// writeLoop is the only goroutine that writes the duplex. Its "drained"
// signal is writerDone: closing while the connection is not yet
// Terminated is itself a transport error (spec §4.2).
func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for f := range c.writeCh {
		if err := WriteFrame(c.duplex, f); err != nil {
			c.postAction(func() { c.onTransportError(NewTransportError("writing frame", err)) })
			return
		}
	}
}

// postAction enqueues a closure onto the run loop, dropping it
// silently if the connection has already fully shut down (mirrors the
// "already terminated" swallow path of spec §9).
func (c *Connection) postAction(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.closed:
	}
}

// run is the connection's single-goroutine actor loop: every mutation
// of every component happens here, and only here.
func (c *Connection) run() {
	defer close(c.closed)
	for {
		select {
		case fo := <-c.frames:
			if fo.err != nil {
				c.onReadError(fo.err)
				if c.state == StateTerminated {
					c.drainClosed()
					return
				}
				continue
			}
			c.dispatch(fo.frame)
			if c.state == StateTerminated {
				c.drainClosed()
				return
			}
		case fn := <-c.actions:
			fn()
			if c.state == StateTerminated {
				c.drainClosed()
				return
			}
		}
	}
}

// drainClosed waits for the reader and writer goroutines to finish
// once the connection has reached Terminated, so terminate()'s
// returned signal only resolves after flushing is truly done.
func (c *Connection) drainClosed() {
	c.cancel()
	close(c.writeCh)
	<-c.writerDone
	c.duplex.Close()
	<-c.readerDone
}

// writeFrame enqueues a frame for the writer goroutine. It must only
// be called from the run loop.
func (c *Connection) writeFrame(f Frame) {
	if c.state == StateTerminated {
		return
	}
	select {
	case c.writeCh <- f:
	default:
		// The writer is behind; block the run loop rather than drop a
		// frame — back-pressure here is preferable to desynchronizing
		// HPACK state or losing a GOAWAY.
		c.writeCh <- f
	}
}

// enqueueControlFrame is writeFrame under a name that documents intent
// at call sites (RST_STREAM/GOAWAY/ACKs that must not be reordered
// behind application DATA).
func (c *Connection) enqueueControlFrame(f Frame) { c.writeFrame(f) }

// ---- dispatch (spec §4.1) ----

func (c *Connection) dispatch(f Frame) {
	if c.state == StateTerminated {
		return
	}

	if c.state == StateInitialized {
		sf, ok := f.(*SettingsFrame)
		if !ok || sf.Flags&FlagSettingsAck != 0 {
			c.fatal(NewConnectionError(ErrCodeProtocolError, "first frame on the connection must be a non-ack SETTINGS"))
			return
		}
		c.state = StateOperational
		logger.WithConnState(&c.log, c.state.String()).Debug().Msg("connection operational")
		if err := c.handleSettings(sf); err != nil {
			c.fatal(err)
		}
		return
	}

	streamID, inProgress := c.defrag.Pending()
	if inProgress {
		cont, isCont := f.(*ContinuationFrame)
		if !isCont || cont.StreamID != streamID {
			c.fatal(NewConnectionError(ErrCodeProtocolError, "only a matching CONTINUATION is legal while a header block is open"))
			return
		}
	}

	switch f.(type) {
	case *HeadersFrame, *PushPromiseFrame, *ContinuationFrame:
		assembled, err := c.defrag.Feed(f)
		if err != nil {
			c.fatal(err)
			return
		}
		if assembled == nil {
			return // still assembling
		}
		c.dispatchHeaderBlock(assembled)
		return
	}

	if err := c.dispatchFrame(f); err != nil {
		c.handleDispatchError(err)
	}
}

// dispatchHeaderBlock decodes the assembled header block through the
// shared HPACK decoder before any further validation or routing
// decision (spec §4.1 step 4): a decode failure is always connection-
// fatal, even if the owning stream is unknown or closed.
func (c *Connection) dispatchHeaderBlock(asm *assembledHeaderBlock) {
	fields, err := c.decodeHeaderBlock(asm.headerBlock)
	if err != nil {
		c.fatal(NewConnectionErrorWithCause(ErrCodeProtocolError, "HPACK decode failed", err))
		return
	}

	if asm.initialType == FramePushPromise && (c.role != RoleClient || !c.allowServerPush) {
		c.fatal(NewConnectionError(ErrCodeProtocolError, "received PUSH_PROMISE but server push is not permitted"))
		return
	}

	frameType := FrameHeaders
	routeID := asm.streamID
	if asm.initialType == FramePushPromise {
		frameType = FramePushPromise
		routeID = asm.promisedStreamID // the promise names a new stream; the header block describes it, not the associated one
	}

	s, err := c.registry.Route(routeID, frameType)
	if err != nil {
		c.handleDispatchError(err)
		return
	}

	headers := make([]HeaderField, len(fields))
	for i, hf := range fields {
		headers[i] = HeaderField{Name: hf.Name, Value: hf.Value, Sensitive: hf.Sensitive}
	}

	kind := EventHeaders
	if s.endStreamRecv || (s.state == StreamHalfClosedRemote) {
		kind = EventTrailers
	}
	s.deliver(&StreamEvent{Kind: kind, Headers: headers, EndStream: asm.endStream})
	if asm.endStream {
		s.transitionOnRecvEndStream()
	}
	// Surface to the application only the first arrival of a
	// peer-initiated stream: a brand new request (HEADERS on a stream
	// we did not open) or a pushed request (PUSH_PROMISE, always
	// peer-initiated by definition). Later HEADERS (trailers) on the
	// same stream must not be resurfaced.
	if !s.surfaced && s.state != StreamClosed && !c.registry.isLocalID(s.id) {
		s.surfaced = true
		select {
		case c.incoming <- s:
		default:
		}
	}
}

func (c *Connection) decodeHeaderBlock(block []byte) ([]hpack.HeaderField, error) {
	if err := c.hpack.DecodeFragment(block); err != nil {
		return nil, err
	}
	return c.hpack.FinishDecoding()
}

// dispatchFrame routes a fully-formed (non-header-block) frame: either
// connection-level handling for stream-id 0, or to the stream
// registry otherwise (spec §4.1 step 5).
func (c *Connection) dispatchFrame(f Frame) error {
	h := f.Header()
	l := logger.WithFrameType(&c.log, h.Type.String())
	if h.StreamID != 0 {
		l = logger.WithStream(l, h.StreamID)
	}
	l.Debug().Msg("dispatching frame")
	if h.StreamID == 0 {
		return c.dispatchConnLevel(f)
	}
	return c.dispatchStreamLevel(f)
}

func (c *Connection) dispatchConnLevel(f Frame) error {
	switch frame := f.(type) {
	case *SettingsFrame:
		if frame.Flags&FlagSettingsAck != 0 {
			return c.settings.OnAck()
		}
		return c.handleSettings(frame)

	case *PingFrame:
		if frame.Flags&FlagPingAck != 0 {
			return c.ping.OnAck(frame.OpaqueData)
		}
		c.writeFrame(Echo(frame.OpaqueData))
		return nil

	case *WindowUpdateFrame:
		if err := c.outWindow.ApplyWindowUpdate(frame.WindowSizeIncrement); err != nil {
			return err
		}
		logger.WithConnState(&c.log, c.state.String()).Debug().Uint32("increment", frame.WindowSizeIncrement).Msg("connection window updated")
		c.outboundQ.Drain()
		return nil

	case *GoAwayFrame:
		c.beginPassiveFinish(frame)
		return nil

	case *UnknownFrame:
		return nil // forward compatibility

	case *PriorityFrame:
		return NewConnectionError(ErrCodeProtocolError, "PRIORITY frame must not target stream 0")

	default:
		return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("frame type %T is not valid on stream 0", f))
	}
}

func (c *Connection) dispatchStreamLevel(f Frame) error {
	h := f.Header()

	switch frame := f.(type) {
	case *DataFrame:
		s, err := c.registry.Route(h.StreamID, 0)
		if err != nil {
			return c.refuseOrPropagate(h.StreamID, err)
		}
		return c.inboundData.Accept(s, frame)

	case *WindowUpdateFrame:
		s, err := c.registry.Route(h.StreamID, 0)
		if err != nil {
			return c.refuseOrPropagate(h.StreamID, err)
		}
		if err := s.sendWindow.ApplyWindowUpdate(frame.WindowSizeIncrement); err != nil {
			return err
		}
		logger.WithStream(&c.log, h.StreamID).Debug().Uint32("increment", frame.WindowSizeIncrement).Msg("stream window updated")
		c.outboundQ.Drain()
		return nil

	case *RSTStreamFrame:
		s, ok := c.registry.get(h.StreamID)
		if !ok {
			return nil // stream already gone; nothing to reset
		}
		s.deliver(&StreamEvent{Kind: EventReset, ErrorCode: frame.ErrorCode})
		s.setState(StreamClosed)
		return nil

	case *PriorityFrame:
		// Acknowledged but never built into a dependency tree (spec §1
		// Non-goals); ParsePayload already checked the 5-byte length, and
		// nothing further is validated here.
		return nil

	default:
		return NewConnectionError(ErrCodeProtocolError, fmt.Sprintf("unexpected frame type %T at stream-level dispatch", f))
	}
}

// refuseOrPropagate turns the registry's "stream refused" signal into
// a clean no-op (the RST_STREAM was already queued by the registry)
// instead of a connection-fatal error.
func (c *Connection) refuseOrPropagate(streamID uint32, err error) error {
	if isTerminatedErr(err) {
		return nil
	}
	return err
}

// handleSettings applies an inbound non-ack SETTINGS frame: validate,
// apply, ack, then propagate any INITIAL_WINDOW_SIZE delta to every
// open stream (spec §4.6).
func (c *Connection) handleSettings(frame *SettingsFrame) error {
	ack, delta, err := c.settings.ApplyPeerSettings(frame.Settings)
	if err != nil {
		return err
	}
	c.writeFrame(ack)
	logger.WithFrameType(&c.log, frame.Type.String()).Debug().Int("count", len(frame.Settings)).Msg("applied peer settings")

	if newSize, ok := findSetting(frame.Settings, SettingHeaderTableSize); ok {
		c.hpack.SetMaxEncoderDynamicTableSize(newSize)
	}

	if delta != nil {
		var overflowErr error
		c.registry.ForEach(func(s *Stream) {
			if overflowErr != nil {
				return
			}
			if err := s.sendWindow.ApplyInitialWindowSizeDelta(*delta); err != nil {
				overflowErr = err
			}
		})
		if overflowErr != nil {
			return overflowErr
		}
	}
	c.outboundQ.Drain()
	return nil
}

func (c *Connection) handleDispatchError(err error) {
	if isTerminatedErr(err) {
		return
	}
	if se, ok := err.(*StreamError); ok {
		c.writeFrame(GenerateRSTStreamFrame(se.StreamID, se.Code, se))
		if s, ok := c.registry.get(se.StreamID); ok {
			s.setState(StreamClosed)
		}
		return
	}
	c.fatal(err)
}

func (c *Connection) onReadError(err error) {
	if te, ok := err.(*TransportError); ok {
		c.onTransportError(te)
		return
	}
	c.fatal(err)
}

// onTransportError terminates without attempting to emit GOAWAY — the
// wire is gone (spec §7 kind 3).
func (c *Connection) onTransportError(err error) {
	if c.state == StateTerminated {
		return
	}
	c.connError = err
	logger.WithConnState(&c.log, c.state.String()).Error().Err(err).Msg("transport error, terminating")
	c.finishPendingOps(err)
	c.state = StateTerminated
}

// fatal handles a protocol/flow-control/internal error: emit GOAWAY
// with the classified code, then terminate (spec §7 kinds 1-2).
func (c *Connection) fatal(err error) {
	if c.state == StateTerminated {
		return
	}
	code := classify(err)
	logger.WithConnState(&c.log, c.state.String()).Error().Err(err).Str("code", code.String()).Msg("connection-fatal error")
	c.writeFrame(GenerateGoAwayFrame(c.registry.HighestProcessed(), code, err.Error(), nil))
	c.connError = err
	c.finishPendingOps(err)
	c.state = StateTerminated
}

func (c *Connection) finishPendingOps(err error) {
	c.settings.FailPending(err)
	c.ping.FailAll(err)
	c.registry.ResetAll(err)
}

// beginPassiveFinish handles an inbound GOAWAY: begin Finishing, do
// not emit one back (spec §4.1's connection-level table).
func (c *Connection) beginPassiveFinish(frame *GoAwayFrame) {
	c.finishing = true
	if c.state == StateOperational {
		c.state = StateFinishing
	}
	logger.WithConnState(&c.log, c.state.String()).Debug().Uint32("last_stream_id", frame.LastStreamID).Str("code", frame.ErrorCode.String()).Msg("received GOAWAY")
}

// ---- public API ----

// Ping sends a PING and resolves once the matching ACK arrives (spec
// §4.1 "ping()"). If the connection terminates first, it fails with the
// error that ended the connection: the connection-fatal error itself
// (for example the PROTOCOL_ERROR of an unmatched ACK), or a
// TransportError after a transport failure or Terminate. A Ping issued
// after termination fails with a TransportError at once.
func (c *Connection) Ping(ctx context.Context) error {
	result := make(chan error, 1)
	c.postAction(func() {
		if c.state == StateTerminated {
			result <- NewTransportError("connection already terminated", nil)
			return
		}
		frame, done, err := c.ping.Ping()
		if err != nil {
			result <- err
			return
		}
		c.writeFrame(frame)
		go func() {
			select {
			case err := <-done:
				result <- err
			case <-c.closed:
				result <- NewTransportError("connection terminated before PING ack", nil)
			}
		}()
	})
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish begins a graceful shutdown (spec §4.1 "finish()"): GOAWAY is
// emitted with NO_ERROR and the highest stream we have acknowledged;
// new streams are refused; existing streams run to completion.
func (c *Connection) Finish() {
	done := make(chan struct{})
	c.postAction(func() {
		defer close(done)
		if c.state == StateTerminated || c.finishing {
			return
		}
		c.finishing = true
		if c.state == StateOperational {
			c.state = StateFinishing
		}
		logger.WithConnState(&c.log, c.state.String()).Debug().Msg("beginning graceful shutdown")
		c.writeFrame(GenerateGoAwayFrame(c.registry.HighestProcessed(), ErrCodeNoError, "", nil))
	})
	<-done
}

// Terminate forcefully ends the connection: fails every pending
// operation, cancels the inbound subscription, closes the outbound
// sink, and resolves once flushing is done. The returned channel never
// fails to close (spec §4.1 "terminate()" — "the returned future never
// fails").
func (c *Connection) Terminate() <-chan struct{} {
	done := make(chan struct{})
	c.postAction(func() {
		if c.state != StateTerminated {
			c.connError = ErrTerminated
			c.finishPendingOps(NewTransportError("connection terminated", nil))
			c.state = StateTerminated
		}
	})
	go func() {
		<-c.closed
		close(done)
	}()
	return done
}

// OpenStream creates a new locally-initiated stream and sends its
// opening HEADERS (spec §4.9, §6 "Creating a stream takes an initial
// header list and an optional end-stream marker").
func (c *Connection) OpenStream(headers []HeaderField, endStream bool) (*Stream, error) {
	type result struct {
		s   *Stream
		err error
	}
	resCh := make(chan result, 1)
	c.postAction(func() {
		s, err := c.registry.AllocateLocal(false)
		if err != nil {
			resCh <- result{err: err}
			return
		}
		if err := c.sendHeaders(s, headers, endStream); err != nil {
			resCh <- result{err: err}
			return
		}
		resCh <- result{s: s}
	})
	r := <-resCh
	return r.s, r.err
}

func (c *Connection) sendHeaders(s *Stream, headers []HeaderField, endStream bool) error {
	fields := make([]hpack.HeaderField, len(headers))
	for i, h := range headers {
		fields[i] = hpack.HeaderField{Name: h.Name, Value: h.Value, Sensitive: h.Sensitive}
	}
	block, err := c.hpack.Encode(fields)
	if err != nil {
		return NewConnectionErrorWithCause(ErrCodeInternalError, "encoding headers", err)
	}
	flags := FlagHeadersEndHeaders
	if endStream {
		flags |= FlagHeadersEndStream
	}
	c.writeFrame(&HeadersFrame{
		FrameHeader:         FrameHeader{Type: FrameHeaders, StreamID: s.id, Flags: flags},
		HeaderBlockFragment: block,
	})
	if endStream {
		s.transitionOnSendEndStream()
	}
	return nil
}

// WriteData queues p as one or more DATA frames for stream s, split as
// needed against the current windows and the peer's MAX_FRAME_SIZE
// (spec §4.8). It returns once every byte has been framed and queued
// for the writer goroutine (not necessarily yet on the wire), so it
// blocks while the connection or stream window lacks credit for the
// rest.
func (s *Stream) WriteData(p []byte, endStream bool) error {
	done := make(chan error, 1)
	s.conn.postAction(func() {
		if !s.isOpenForSend() {
			done <- NewStreamError(s.id, ErrCodeStreamClosed, "stream is not open for sending")
			return
		}
		s.outbox = append(s.outbox, &pendingWrite{data: p, endStream: endStream, done: done})
		s.conn.outboundQ.drainStream(s)
	})
	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
		return NewStreamError(s.id, ErrCodeCancel, "stream closed while writing")
	}
}

// WriteTrailers sends trailing headers, implicitly ending the stream.
func (s *Stream) WriteTrailers(trailers []HeaderField) error {
	result := make(chan error, 1)
	s.conn.postAction(func() {
		result <- s.conn.sendHeaders(s, trailers, true)
	})
	return <-result
}

// Reset sends an RST_STREAM with the given code and closes the stream.
func (s *Stream) Reset(code ErrorCode) {
	done := make(chan struct{})
	s.conn.postAction(func() {
		s.resetLocally(code)
		close(done)
	})
	<-done
}

// ChangeSettings proposes a local SETTINGS change and resolves once the
// peer's ack arrives (spec §4.6 "local change flow"). A change to
// SETTINGS_HEADER_TABLE_SIZE resizes our HPACK decoder's dynamic table
// immediately (the new limit governs what we're willing to decode,
// not what the peer is willing to encode); a change to
// SETTINGS_INITIAL_WINDOW_SIZE re-bases every open stream's incoming
// replenishment threshold. A change to SETTINGS_MAX_FRAME_SIZE only
// takes effect once acked: raising c.ourMaxFrameSize before the peer
// has seen the proposal would accept frame sizes the read loop was
// never actually promised.
func (c *Connection) ChangeSettings(proposals map[SettingID]uint32) error {
	result := make(chan error, 1)
	c.postAction(func() {
		if c.state != StateOperational {
			result <- NewConnectionError(ErrCodeProtocolError, "cannot change settings outside the Operational state")
			return
		}
		frame, done := c.settings.ProposeChange(proposals)
		c.writeFrame(frame)
		if newSize, ok := proposals[SettingHeaderTableSize]; ok {
			c.hpack.SetMaxDecoderDynamicTableSize(newSize)
		}
		if newInitial, ok := proposals[SettingInitialWindowSize]; ok {
			c.inWindow.UpdateInitialWindowSize(newInitial)
			c.registry.ForEach(func(s *Stream) { s.recvWindow.UpdateInitialWindowSize(newInitial) })
		}
		go func() {
			select {
			case err := <-done:
				if err == nil {
					if newMaxFrame, ok := proposals[SettingMaxFrameSize]; ok {
						c.ourMaxFrameSize.Store(newMaxFrame)
					}
				}
				result <- err
			case <-c.closed:
				result <- NewTransportError("connection terminated before SETTINGS ack", nil)
			}
		}()
	})
	return <-result
}

// Incoming returns peer-initiated streams as they open (spec §6).
// Only meaningful on a server Connection, or a client that allows
// server push.
func (c *Connection) Incoming() <-chan *Stream { return c.incoming }

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	result := make(chan ConnState, 1)
	c.postAction(func() { result <- c.state })
	select {
	case s := <-result:
		return s
	case <-c.closed:
		return StateTerminated
	}
}
