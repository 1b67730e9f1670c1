package protocol

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Conn is a framed duplex transport. Implementations own their
// underlying stream exclusively: reads must come from a single
// goroutine, while WriteFrame is safe for concurrent callers.
type Conn interface {
	// ReadFrame blocks until a complete frame arrives, the peer
	// closes, or malformed data is detected. Any error is terminal
	// for the connection.
	ReadFrame() (*Frame, error)

	// WriteFrame writes one complete frame. A write error marks the
	// connection unrecoverable for the caller.
	WriteFrame(f *Frame) error

	// SetReadDeadline bounds the next ReadFrame call.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline bounds subsequent WriteFrame calls.
	SetWriteDeadline(t time.Time) error

	// Close closes the underlying stream, unblocking pending reads
	// and writes on it.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// StreamConn adapts a net.Conn (typically TCP) to the framed Conn
// interface. Reads are buffered; writes are serialized internally so
// frames from concurrent writers never interleave on the stream.
type StreamConn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu sync.Mutex
}

// NewStreamConn wraps a net.Conn in a framed connection.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{
		conn: conn,
		br:   bufio.NewReader(conn),
	}
}

// ReadFrame reads the next frame from the stream.
func (c *StreamConn) ReadFrame() (*Frame, error) {
	return ReadFrame(c.br)
}

// WriteFrame writes one frame to the stream.
func (c *StreamConn) WriteFrame(f *Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.conn, f)
}

// SetReadDeadline bounds the next ReadFrame.
func (c *StreamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline bounds subsequent WriteFrames.
func (c *StreamConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close closes the underlying stream.
func (c *StreamConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadMessage reads the next frame and decodes it as a Message.
// Frames that do not carry messages (Hello, Welcome) yield
// ErrNotMessage; the connection state is undisturbed otherwise.
func ReadMessage(c Conn) (*Message, error) {
	f, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeMessage(f)
}

// WriteMessage encodes the message and writes it as one frame.
func WriteMessage(c Conn, m *Message) error {
	return c.WriteFrame(m.Frame())
}
