package relay

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parley-chat/parley/pkg/protocol"
)

// SessionState tracks a client through its lifecycle. Transitions only
// move forward: Connecting → Handshaking → Active → Closing → Closed.
type SessionState int32

const (
	StateConnecting  SessionState = iota // Transport accepted, no identity yet
	StateHandshaking                     // Awaiting/validating the Hello frame
	StateActive                          // Registered; receive loop running
	StateClosing                         // Deregistering and announcing departure
	StateClosed                          // Terminal
)

// String returns the string representation of the session state.
func (ss SessionState) String() string {
	switch ss {
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session owns one client connection. The receive loop is the only
// reader of the transport; a dedicated writer goroutine drains the
// outbox so writes from the broadcaster and from the session's own
// send path never interleave.
type Session struct {
	// Identity, assigned when the handshake succeeds.
	ID   string
	Name string

	// Join-order sequence, assigned by the registry.
	joinSeq uint64

	conn   protocol.Conn
	config *SessionConfig
	logger *slog.Logger

	state  atomic.Int32
	closed atomic.Bool

	outbox chan *protocol.Frame

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	writerWG  sync.WaitGroup

	joinedAt time.Time
}

// newSession wraps an accepted connection. The session starts in
// Connecting with no identity; the handshake fills in ID and Name.
func newSession(parent context.Context, conn protocol.Conn, config *SessionConfig, logger *slog.Logger) *Session {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		conn:   conn,
		config: config,
		logger: logger.With("component", "session"),
		outbox: make(chan *protocol.Frame, config.OutboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// admit records the identity assigned by a successful handshake and
// moves the session to Active.
func (s *Session) admit(id, name string) {
	s.ID = id
	s.Name = name
	s.joinedAt = time.Now()
	s.logger = s.logger.With("client_id", id, "name", name)
	s.setState(StateActive)
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(next SessionState) {
	prev := SessionState(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Debug("session state changed", "from", prev.String(), "to", next.String())
	}
}

// Addr returns the peer address.
func (s *Session) Addr() net.Addr {
	return s.conn.RemoteAddr()
}

// Done is closed when the session context is cancelled.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Enqueue places a frame on the session's outbound queue without
// blocking. ErrOutboxFull means the client cannot keep up and should
// be treated as unreachable; ErrSessionClosed means it already went
// away. Neither error propagates beyond this recipient.
func (s *Session) Enqueue(f *protocol.Frame) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.outbox <- f:
		return nil
	default:
		return ErrOutboxFull
	}
}

// startWriter launches the goroutine that drains the outbox to the
// transport. Called once, when the session becomes Active.
func (s *Session) startWriter() {
	s.writerWG.Add(1)
	go s.writeLoop()
}

// writeLoop is the sole writer of the transport after admission. Each
// frame gets a bounded write deadline; a failed or expired write marks
// the session unreachable and tears it down.
func (s *Session) writeLoop() {
	defer s.writerWG.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drainOutbox()
			return
		case f := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteFrame(f); err != nil {
				s.logger.Debug("outbound write failed",
					"frame_type", f.Type.String(),
					"error", err)
				s.Close()
				return
			}
		}
	}
}

// drainOutbox makes a final pass over frames queued before cancellation,
// so farewell notices still reach clients whose transports remain open.
// The first failed write abandons the pass; a dead transport cannot
// stall shutdown.
func (s *Session) drainOutbox() {
	for {
		select {
		case f := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := s.conn.WriteFrame(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// writeFrame writes directly to the transport with the configured
// write deadline. Only valid before the writer starts (handshake and
// replay), while the accepting goroutine still owns the write side.
func (s *Session) writeFrame(f *protocol.Frame) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteFrame(f)
}

// Close releases the transport and cancels the session context,
// unblocking any pending read or write. It is idempotent and safe to
// call from any goroutine; the owning receive loop observes the closed
// transport and runs teardown.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.conn.Close()
	})
}

// awaitWriter blocks until the writer goroutine exits.
func (s *Session) awaitWriter() {
	s.writerWG.Wait()
}
