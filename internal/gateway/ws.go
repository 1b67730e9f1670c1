package gateway

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/pkg/protocol"
)

// wsConn adapts a websocket to protocol.Conn. Every binary websocket
// message carries exactly one frame; text messages and pings are
// skipped. A normal close from the peer surfaces as io.EOF so the
// relay treats browser disconnects like TCP disconnects.
type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(protocol.FrameHeaderSize + protocol.MaxPayloadSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadFrame() (*protocol.Frame, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			return nil, err
		}
		if extra := len(data) - protocol.FrameHeaderSize - len(f.Payload); extra > 0 {
			return nil, fmt.Errorf("gateway: %d trailing bytes after frame", extra)
		}
		return f, nil
	}
}

func (c *wsConn) WriteFrame(f *protocol.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, f.Encode())
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}
