package http2

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2/hpack"

	"github.com/outervation/h2core/internal/logger"
)

// testLogger exercises the internal/logger construction path in tests
// without spamming test output: everything routes through it, but the
// sink is discarded.
func testLogger() *zerolog.Logger { return logger.New(io.Discard, zerolog.DebugLevel) }

const testTimeout = 2 * time.Second

// fakePeer drives the non-library side of a net.Pipe by hand, reading
// and writing raw frames, so these tests exercise the real reader,
// writer, and run-loop goroutines without a second Connection.
type fakePeer struct {
	t    *testing.T
	conn net.Conn
}

func (p *fakePeer) readFrame() Frame {
	f, err := ReadFrame(p.conn, MaxAllowedFrameSize)
	require.NoError(p.t, err)
	return f
}

func (p *fakePeer) writeFrame(f Frame) {
	require.NoError(p.t, WriteFrame(p.conn, f))
}

func (p *fakePeer) readPreface() {
	buf := make([]byte, ClientPrefaceLen)
	_, err := readFull(p.conn, buf)
	require.NoError(p.t, err)
	require.Equal(p.t, ClientPreface, string(buf))
}

// handshake completes the opening exchange spec §4.1 describes: our
// side has already queued its own empty SETTINGS ahead of anything
// else (see Connection.start), so the peer reads that first, then sends
// its own mandatory opening SETTINGS — the non-ack SETTINGS that
// dispatch's "first frame" gate requires, and which flips the
// connection to Operational — consumes our ack of it, and finally acks
// our SETTINGS.
func (p *fakePeer) handshake() {
	ours := p.readFrame()
	sf, ok := ours.(*SettingsFrame)
	require.True(p.t, ok)
	require.True(p.t, sf.Flags&FlagSettingsAck == 0)

	p.writeFrame(&SettingsFrame{FrameHeader: FrameHeader{Type: FrameSettings, StreamID: 0}})
	ack := p.readFrame()
	ackFrame, ok := ack.(*SettingsFrame)
	require.True(p.t, ok)
	require.True(p.t, ackFrame.Flags&FlagSettingsAck != 0)

	p.writeFrame(&SettingsFrame{FrameHeader: FrameHeader{Type: FrameSettings, StreamID: 0, Flags: FlagSettingsAck}})
}

// newClientAndPeer drives NewClient's blocking preface write against a
// concurrent reader: net.Pipe has no internal buffering, so nothing
// would ever consume those bytes if the peer read them only after
// NewClient returned.
func newClientAndPeer(t *testing.T, opts ClientOptions) (*Connection, *fakePeer) {
	clientSide, peerSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close(); peerSide.Close() })
	peer := &fakePeer{t: t, conn: peerSide}

	prefaceRead := make(chan struct{})
	go func() { peer.readPreface(); close(prefaceRead) }()

	c, err := NewClient(clientSide, opts)
	require.NoError(t, err)
	<-prefaceRead
	return c, peer
}

func newServerAndPeer(t *testing.T) (*Connection, *fakePeer) {
	serverSide, peerSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); peerSide.Close() })
	c, err := NewServer(serverSide, ServerOptions{Log: testLogger()})
	require.NoError(t, err)
	peer := &fakePeer{t: t, conn: peerSide}
	return c, peer
}

func TestConn_ClientHandshake_SendsPrefaceThenBecomesOperational(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{Log: testLogger()})
	assert.Equal(t, StateInitialized, c.State())

	peer.handshake()
	assert.Equal(t, StateOperational, c.State())
}

func TestConn_ServerRejectsNonSettingsFirstFrame(t *testing.T) {
	c, peer := newServerAndPeer(t)
	_, err := peer.conn.Write([]byte(ClientPreface))
	require.NoError(t, err)

	// The server's own opening SETTINGS goes out regardless of what the
	// peer sends on its half of the connection; consume it before the
	// bad first frame triggers the GOAWAY.
	ours := peer.readFrame()
	_, ok := ours.(*SettingsFrame)
	require.True(t, ok)

	peer.writeFrame(&PingFrame{FrameHeader: FrameHeader{Type: FramePing, StreamID: 0}})

	f := peer.readFrame()
	_, ok = f.(*GoAwayFrame)
	require.True(t, ok)

	assert.Equal(t, StateTerminated, c.State())
}

func TestConn_Ping_RoundTrip(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{})
	peer.handshake()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		done <- c.Ping(ctx)
	}()

	f := peer.readFrame()
	pf, ok := f.(*PingFrame)
	require.True(t, ok)
	assert.True(t, pf.Flags&FlagPingAck == 0)
	peer.writeFrame(Echo(pf.OpaqueData))

	require.NoError(t, <-done)
}

func TestConn_Ping_MismatchedAckTerminatesConnection(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{})
	peer.handshake()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = c.Ping(ctx)
	}()

	f := peer.readFrame()
	_, ok := f.(*PingFrame)
	require.True(t, ok)

	peer.writeFrame(Echo([8]byte{9, 9, 9, 9, 9, 9, 9, 9}))

	goaway := peer.readFrame()
	_, ok = goaway.(*GoAwayFrame)
	require.True(t, ok)
	assert.Equal(t, StateTerminated, c.State())
}

func TestConn_OpenStreamAndWriteData_FlowsThroughToPeer(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{})
	peer.handshake()

	s, err := c.OpenStream([]HeaderField{{Name: ":method", Value: "GET"}}, false)
	require.NoError(t, err)

	f := peer.readFrame()
	hf, ok := f.(*HeadersFrame)
	require.True(t, ok)
	assert.EqualValues(t, s.ID(), hf.StreamID)

	writeDone := make(chan error, 1)
	go func() { writeDone <- s.WriteData([]byte("hello"), true) }()

	df := peer.readFrame()
	data, ok := df.(*DataFrame)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data.Data)
	assert.True(t, data.Flags&FlagDataEndStream != 0)

	require.NoError(t, <-writeDone)
}

func TestConn_WriteData_ResumesAfterWindowUpdate(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{})
	peer.handshake()

	s, err := c.OpenStream(nil, false)
	require.NoError(t, err)
	_ = peer.readFrame() // HEADERS

	large := make([]byte, DefaultInitialWindowSize+10)
	writeDone := make(chan error, 1)
	go func() { writeDone <- s.WriteData(large, true) }()

	// The initial window (65535) is drained in MAX_FRAME_SIZE-bounded
	// chunks; none of these carry END_STREAM since 10 bytes remain.
	var total int
	for total < int(DefaultInitialWindowSize) {
		f := peer.readFrame().(*DataFrame)
		assert.False(t, f.Flags&FlagDataEndStream != 0)
		total += len(f.Data)
	}
	assert.EqualValues(t, DefaultInitialWindowSize, total)

	select {
	case <-writeDone:
		t.Fatal("write should still be blocked on the remaining bytes")
	case <-time.After(20 * time.Millisecond):
	}

	// Both the stream and connection windows are exhausted equally;
	// both must be replenished before the last 10 bytes can go out.
	peer.writeFrame(&WindowUpdateFrame{FrameHeader: FrameHeader{Type: FrameWindowUpdate, StreamID: s.ID()}, WindowSizeIncrement: 100})
	peer.writeFrame(&WindowUpdateFrame{FrameHeader: FrameHeader{Type: FrameWindowUpdate, StreamID: 0}, WindowSizeIncrement: 100})

	last := peer.readFrame().(*DataFrame)
	assert.EqualValues(t, 10, len(last.Data))
	assert.True(t, last.Flags&FlagDataEndStream != 0)

	require.NoError(t, <-writeDone)
}

func TestConn_HeadersPlusContinuation_SurfacesAsIncomingStream(t *testing.T) {
	c, peer := newServerAndPeer(t)
	_, err := peer.conn.Write([]byte(ClientPreface))
	require.NoError(t, err)
	peer.handshake()

	enc := NewHeaderCodec(4096)
	block, err := enc.Encode(hpackFields(":method", "GET", ":path", "/"))
	require.NoError(t, err)
	mid := len(block) / 2

	peer.writeFrame(&HeadersFrame{
		FrameHeader:         FrameHeader{Type: FrameHeaders, StreamID: 1},
		HeaderBlockFragment: block[:mid],
	})
	peer.writeFrame(&ContinuationFrame{
		FrameHeader:         FrameHeader{Type: FrameContinuation, StreamID: 1, Flags: FlagContinuationEndHeaders},
		HeaderBlockFragment: block[mid:],
	})

	select {
	case s := <-c.Incoming():
		assert.EqualValues(t, 1, s.ID())
		ev := <-s.Events()
		assert.Equal(t, EventHeaders, ev.Kind)
		assert.Equal(t, ":method", ev.Headers[0].Name)
	case <-time.After(testTimeout):
		t.Fatal("expected the stream to surface via Incoming()")
	}
}

func TestConn_OtherFrameBetweenHeadersAndContinuationIsFatal(t *testing.T) {
	c, peer := newServerAndPeer(t)
	_, err := peer.conn.Write([]byte(ClientPreface))
	require.NoError(t, err)
	peer.handshake()

	peer.writeFrame(&HeadersFrame{FrameHeader: FrameHeader{Type: FrameHeaders, StreamID: 1}, HeaderBlockFragment: []byte("x")})
	peer.writeFrame(&PingFrame{FrameHeader: FrameHeader{Type: FramePing, StreamID: 0}})

	goaway := peer.readFrame()
	_, ok := goaway.(*GoAwayFrame)
	require.True(t, ok)
	assert.Equal(t, StateTerminated, c.State())
}

func TestConn_Finish_SendsGoAwayWithNoError(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{})
	peer.handshake()

	finishDone := make(chan struct{})
	go func() { c.Finish(); close(finishDone) }()

	f := peer.readFrame()
	goaway, ok := f.(*GoAwayFrame)
	require.True(t, ok)
	assert.Equal(t, ErrCodeNoError, goaway.ErrorCode)

	<-finishDone
}

func TestConn_ChangeSettings_RoundTrip(t *testing.T) {
	c, peer := newClientAndPeer(t, ClientOptions{})
	peer.handshake()

	resultDone := make(chan error, 1)
	go func() { resultDone <- c.ChangeSettings(map[SettingID]uint32{SettingInitialWindowSize: 1000}) }()

	f := peer.readFrame()
	sf, ok := f.(*SettingsFrame)
	require.True(t, ok)
	require.Len(t, sf.Settings, 1)

	peer.writeFrame(&SettingsFrame{FrameHeader: FrameHeader{Type: FrameSettings, StreamID: 0, Flags: FlagSettingsAck}})

	require.NoError(t, <-resultDone)
}

func hpackFields(kv ...string) []hpack.HeaderField {
	fields := make([]hpack.HeaderField, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		fields = append(fields, hpack.HeaderField{Name: kv[i], Value: kv[i+1]})
	}
	return fields
}
