package http2

import "io"

// Duplex is the byte-transport contract the connection core is built
// on (spec §6). It deliberately does not mention TLS, TCP, or ALPN —
// those are the external collaborator's job. Anything that can read
// and write bytes and be closed qualifies, including net.Conn and, in
// tests, an in-memory pipe.
type Duplex interface {
	io.Reader
	io.Writer
	io.Closer
}

// ClientPreface is the 24-octet magic string a client sends before any
// frame (spec §6). A server must read and validate exactly these
// bytes before accepting any frame on the connection.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// ClientPrefaceLen is len(ClientPreface), kept as a named constant
// since several read paths size buffers against it.
const ClientPrefaceLen = len(ClientPreface)
