// Package client implements the terminal chat client: it dials a
// relay, completes the name handshake, and runs a receive loop and an
// input loop until either side ends the conversation.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

const (
	// DefaultAddr is the relay address used when none is configured.
	DefaultAddr = "localhost:7465"

	// DefaultDialTimeout bounds the TCP dial and the handshake round
	// trip.
	DefaultDialTimeout = 10 * time.Second
)

// Config controls a client connection.
type Config struct {
	// Addr is the relay's TCP address.
	Addr string

	// Name is the display name requested in the handshake.
	Name string

	// Token authenticates the handshake when the relay requires it.
	Token string

	// DialTimeout bounds the dial and the handshake. Zero means
	// DefaultDialTimeout.
	DialTimeout time.Duration

	// In supplies the user's input lines. Nil means os.Stdin.
	In io.Reader

	// Out receives rendered messages. Nil means os.Stdout.
	Out io.Writer

	// Logger is the base logger. Nil means slog.Default().
	Logger *slog.Logger
}

// HandshakeError is returned by Dial and Connect when the server
// refuses admission.
type HandshakeError struct {
	Status protocol.HandshakeStatus
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("client: handshake rejected: %s", e.Status)
}

// Client is one connected chat participant.
type Client struct {
	conn   protocol.Conn
	name   string
	id     string
	in     io.Reader
	out    io.Writer
	outMu  sync.Mutex
	logger *slog.Logger
}

// Dial connects to the relay at config.Addr and completes the
// handshake.
func Dial(config Config) (*Client, error) {
	addr := config.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	c, err := Connect(protocol.NewStreamConn(nc), config)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Connect performs the handshake over an established connection. On
// success the connection belongs to the returned client.
func Connect(conn protocol.Conn, config Config) (*Client, error) {
	if !protocol.ValidName(config.Name) {
		return nil, fmt.Errorf("client: invalid name %q", config.Name)
	}
	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	in := config.In
	if in == nil {
		in = os.Stdin
	}
	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	hello := protocol.NewFrame(protocol.FrameHello,
		protocol.EncodeClientHello(protocol.NewClientHello(config.Name, config.Token)))
	if err := conn.WriteFrame(hello); err != nil {
		return nil, fmt.Errorf("client: sending hello: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("client: setting handshake deadline: %w", err)
	}
	f, err := conn.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("client: reading welcome: %w", err)
	}
	if f.Type != protocol.FrameWelcome {
		return nil, fmt.Errorf("client: unexpected %s frame before welcome", f.Type)
	}
	welcome, err := protocol.DecodeServerHello(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("client: decoding welcome: %w", err)
	}
	if welcome.Status != protocol.HandshakeOK {
		return nil, &HandshakeError{Status: welcome.Status}
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("client: clearing handshake deadline: %w", err)
	}

	return &Client{
		conn:   conn,
		name:   config.Name,
		id:     welcome.ClientID,
		in:     in,
		out:    out,
		logger: logger.With("component", "client"),
	}, nil
}

// ID returns the identifier the server assigned in the handshake.
func (c *Client) ID() string { return c.id }

// Name returns the display name the client joined under.
func (c *Client) Name() string { return c.name }

// Close closes the transport. Run calls this itself; Close exists for
// callers that connect without running the loops.
func (c *Client) Close() error { return c.conn.Close() }

// Run drives the session: a goroutine renders incoming traffic while
// another forwards input lines. Run returns when the server closes
// the stream, the input ends or asks to exit, or ctx is canceled.
// Whichever loop finishes first, the transport is closed so the other
// loop stops blocking on it.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvErr := make(chan error, 1)
	go func() { recvErr <- c.receiveLoop(ctx) }()

	inputErr := make(chan error, 1)
	go func() { inputErr <- c.inputLoop(ctx) }()

	// An input reader blocked on a terminal cannot be interrupted by
	// closing the conn; that goroutine parks harmlessly until the
	// process exits.
	var err error
	select {
	case err = <-recvErr:
		c.conn.Close()
	case err = <-inputErr:
		c.conn.Close()
		<-recvErr
	case <-ctx.Done():
		err = ctx.Err()
		c.conn.Close()
		<-recvErr
	}
	return err
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		f, err := c.conn.ReadFrame()
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
				return nil
			case errors.Is(err, io.EOF):
				c.printLine("* disconnected from server")
				return nil
			default:
				return fmt.Errorf("client: read: %w", err)
			}
		}
		m, err := protocol.DecodeMessage(f)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "type", f.Type.String(), "error", err)
			continue
		}
		c.render(m)
	}
}

func (c *Client) inputLoop(ctx context.Context) error {
	sc := bufio.NewScanner(c.in)
	sc.Buffer(make([]byte, 0, 64*1024), protocol.MaxPayloadSize)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		msg := protocol.NewChat(c.name, line, time.Now())
		if err := c.conn.WriteFrame(msg.Frame()); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("client: send: %w", err)
		}
		switch line {
		case "!exit", "/quit":
			return nil
		case "!who", "/who":
			// The roster comes back as a system notice.
		default:
			// The server excludes the sender from its own broadcast,
			// so the local echo is the only copy the author sees.
			c.printLine(renderChat(c.name, time.Now(), line))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("client: input: %w", err)
	}
	return nil
}

// render writes one incoming message. Announcements and notices get a
// leading marker so they stand apart from chat text; replayed history
// is set off with a pipe.
func (c *Client) render(m *protocol.Message) {
	var line string
	switch m.Kind {
	case protocol.KindChat:
		line = renderChat(m.Sender, m.Timestamp(), m.Body)
	case protocol.KindJoin:
		line = fmt.Sprintf("* %s entered the chat!", m.Sender)
	case protocol.KindLeave:
		line = fmt.Sprintf("* %s left the chat", m.Sender)
	default:
		line = "* " + m.Body
	}
	if m.Replay {
		line = "| " + line
	}
	c.printLine(line)
}

func renderChat(sender string, at time.Time, body string) string {
	return fmt.Sprintf("%s [%s]: %s", sender, at.Format("15:04:05"), body)
}

func (c *Client) printLine(line string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, line)
}
