package http2

// OutboundQueue is C8's outgoing half: it consumes queued application
// messages from every stream and splits them into DATA frames bounded
// by both the connection window and the peer's MAX_FRAME_SIZE (spec
// §4.8). It holds no state of its own beyond what it needs to iterate
// — the windows and stream queues it drains live on the Connection and
// its streams.
type OutboundQueue struct {
	conn *Connection
}

func NewOutboundQueue(conn *Connection) *OutboundQueue { return &OutboundQueue{conn: conn} }

// Drain walks every stream with outstanding outbound writes and emits
// as many DATA frames as current credit allows, FIFO within each
// stream. Each stream is visited once, in the registry map's
// unspecified order, and drained as far as credit allows before the
// next; chunks of different streams are not interleaved. It's called
// whenever credit might have newly become available: after a
// WINDOW_UPDATE and after peer SETTINGS. Newly queued data goes through
// drainStream for its own stream only.
func (q *OutboundQueue) Drain() {
	c := q.conn
	for _, s := range c.registry.byID {
		q.drainStream(s)
	}
}

func (q *OutboundQueue) drainStream(s *Stream) {
	c := q.conn
	for len(s.outbox) > 0 {
		w := s.outbox[0]
		remaining := uint32(len(w.data) - w.sent)
		if remaining == 0 {
			// A zero-length, non-end-stream write has no bytes to put on
			// the wire and nothing further to wait for; resolve it right
			// away instead of leaving WriteData blocked forever on a
			// done channel this loop would otherwise never close.
			if w.endStream {
				q.emit(s, w, nil, true)
			} else if w.done != nil {
				close(w.done)
			}
			s.outbox = s.outbox[1:]
			continue
		}

		connAvail := c.outWindow.Available()
		streamAvail := s.sendWindow.Available()
		maxFrame := c.settings.Peer(SettingMaxFrameSize)

		chunk := remaining
		if connAvail <= 0 || streamAvail <= 0 {
			return // out of credit on one of the two windows; wait for WINDOW_UPDATE
		}
		if uint32(connAvail) < chunk {
			chunk = uint32(connAvail)
		}
		if uint32(streamAvail) < chunk {
			chunk = uint32(streamAvail)
		}
		if maxFrame < chunk {
			chunk = maxFrame
		}
		if chunk == 0 {
			return
		}

		endStream := w.endStream && chunk == remaining
		payload := w.data[w.sent : w.sent+int(chunk)]
		q.emit(s, w, payload, endStream)

		c.outWindow.Consume(chunk)
		s.sendWindow.Consume(chunk)
		w.sent += int(chunk)

		if w.sent == len(w.data) {
			if w.endStream {
				s.transitionOnSendEndStream()
			}
			if w.done != nil {
				close(w.done)
			}
			s.outbox = s.outbox[1:]
		}
	}
}

func (q *OutboundQueue) emit(s *Stream, w *pendingWrite, payload []byte, endStream bool) {
	flags := Flags(0)
	if endStream {
		flags |= FlagDataEndStream
	}
	frame := &DataFrame{
		FrameHeader: FrameHeader{Type: FrameData, StreamID: s.id, Flags: flags},
		Data:        payload,
	}
	if endStream && len(payload) == 0 {
		s.transitionOnSendEndStream()
		if w.done != nil {
			close(w.done)
		}
	}
	q.conn.writeFrame(frame)
}

// InboundDataHandler is C8's incoming half: it hands DATA frames to
// the right stream, decrementing both windows and triggering
// replenishment (spec §4.8, §4.4).
type InboundDataHandler struct {
	conn *Connection
}

func NewInboundDataHandler(conn *Connection) *InboundDataHandler { return &InboundDataHandler{conn: conn} }

// Accept processes one inbound DATA frame already routed to stream s.
func (h *InboundDataHandler) Accept(s *Stream, f *DataFrame) error {
	c := h.conn
	n := f.PayloadLen()

	if increment, ok := c.inWindow.OnBytesReceived(n); ok {
		c.writeFrame(&WindowUpdateFrame{
			FrameHeader:         FrameHeader{Type: FrameWindowUpdate, StreamID: 0},
			WindowSizeIncrement: increment,
		})
	}
	if increment, ok := s.recvWindow.OnBytesReceived(n); ok {
		c.writeFrame(&WindowUpdateFrame{
			FrameHeader:         FrameHeader{Type: FrameWindowUpdate, StreamID: s.id},
			WindowSizeIncrement: increment,
		})
	}

	endStream := f.Flags&FlagDataEndStream != 0
	s.deliver(&StreamEvent{Kind: EventData, Data: f.Data, EndStream: endStream})
	if endStream {
		s.transitionOnRecvEndStream()
	}
	return nil
}
