package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/telemetry"
	"github.com/parley-chat/parley/pkg/protocol"
)

// TokenVerifier checks a handshake token against the display name it
// was issued for. Only consulted when ServerConfig.RequireAuth is set.
type TokenVerifier interface {
	Verify(token, name string) bool
}

// ServerOptions carries optional server collaborators.
type ServerOptions struct {
	// Verifier validates handshake tokens. Required when the config sets
	// RequireAuth; ignored otherwise.
	Verifier TokenVerifier

	// Recorder receives chat messages for archival. May be nil.
	Recorder Recorder

	// Metrics receives connection and delivery counters. May be nil.
	Metrics *telemetry.Metrics

	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// Server accepts transport connections and runs one session per client.
//
// Each accepted connection is handshake-first: nothing a client sends
// before a valid Hello is interpreted, and nothing reaches the room
// until the client is registered. Per-session failures never cross
// session boundaries; the only fatal error is a failed listen.
type Server struct {
	config *ServerConfig

	registry *Registry
	history  *History
	hub      *Hub
	verifier TokenVerifier
	metrics  *telemetry.Metrics

	logger     *slog.Logger
	baseLogger *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	closing atomic.Bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a relay server with the given configuration.
// A nil config uses DefaultServerConfig().
func NewServer(config *ServerConfig) *Server {
	return NewServerWithOptions(config, nil)
}

// NewServerWithOptions creates a relay server with optional
// collaborators wired in.
func NewServerWithOptions(config *ServerConfig, opts *ServerOptions) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		// Fill in defaults for any unset fields. HistorySize is left
		// alone: zero there means history disabled, not unset.
		config = config.Clone()
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.SessionConfig == nil {
			config.SessionConfig = defaults.SessionConfig
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
	}

	base := slog.Default()
	var (
		verifier TokenVerifier
		recorder Recorder
		metrics  *telemetry.Metrics
	)
	if opts != nil {
		if opts.Logger != nil {
			base = opts.Logger
		}
		verifier = opts.Verifier
		recorder = opts.Recorder
		metrics = opts.Metrics
	}

	registry := NewRegistry(base)
	var history *History
	if config.HistorySize > 0 {
		history = NewHistory(config.HistorySize)
	}
	hub := NewHubWithOptions(registry, history, base, &HubOptions{
		Recorder: recorder,
		Metrics:  metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:     config,
		registry:   registry,
		history:    history,
		hub:        hub,
		verifier:   verifier,
		metrics:    metrics,
		logger:     base.With("component", "server"),
		baseLogger: base,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Registry returns the client registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ListenAndServe binds the configured address and serves until
// Shutdown. A failed bind is the one startup error that is fatal.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.config.Address, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the listener closes. It
// returns ErrServerClosed after Shutdown. Individual accept failures
// are logged and retried with backoff; they never stop the loop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("server listening", "address", ln.Addr().String())

	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		go s.HandleConn(protocol.NewStreamConn(nc))
	}
}

// HandleConn runs the full session lifecycle for one connection and
// blocks until the session ends. The accept loop calls it in its own
// goroutine; the websocket gateway calls it from the upgrade handler.
func (s *Server) HandleConn(conn protocol.Conn) {
	if s.closing.Load() {
		conn.Close()
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	sess := newSession(s.ctx, conn, s.config.SessionConfig, s.baseLogger)

	_, span := telemetry.StartSpan(s.ctx, "relay.handshake")
	hello, status := s.handshake(sess)
	if status != protocol.HandshakeOK {
		span.SetAttributes(telemetry.AttrStatus.String(status.String()))
		telemetry.EndSpan(span, ErrInvalidHandshake)
		s.rejectHandshake(sess, status)
		return
	}

	sess.admit(uuid.NewString(), hello.Name)
	span.SetAttributes(
		telemetry.AttrStatus.String(status.String()),
		telemetry.AttrClientID.String(sess.ID),
	)
	telemetry.EndSpan(span, nil)

	defer s.teardown(sess)
	if err := s.adopt(sess); err != nil {
		s.logger.Warn("session adoption failed", "error", err)
		return
	}

	// Join announcement goes to everyone, the newcomer included. It
	// doubles as the newcomer's confirmation of admission.
	join := &protocol.Message{
		Kind:   protocol.KindJoin,
		Sender: sess.Name,
		Time:   uint64(time.Now().UnixMilli()),
	}
	s.hub.Broadcast(s.ctx, join, "")

	s.receiveLoop(sess)
}

// handshake reads and validates the Hello frame under the handshake
// deadline. It reports the status to answer with; the caller rejects
// or admits accordingly.
func (s *Server) handshake(sess *Session) (*protocol.ClientHello, protocol.HandshakeStatus) {
	sess.setState(StateHandshaking)

	sess.conn.SetReadDeadline(time.Now().Add(s.config.SessionConfig.HandshakeTimeout))
	f, err := sess.conn.ReadFrame()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, protocol.HandshakeTimeout
		}
		return nil, protocol.HandshakeInvalidFormat
	}
	if f.Type != protocol.FrameHello {
		return nil, protocol.HandshakeInvalidFormat
	}
	hello, err := protocol.DecodeClientHello(f.Payload)
	if err != nil {
		return nil, protocol.HandshakeInvalidFormat
	}
	if !protocol.ValidName(hello.Name) {
		return nil, protocol.HandshakeInvalidName
	}
	if s.config.RequireAuth {
		if s.verifier == nil || hello.Token == "" || !s.verifier.Verify(hello.Token, hello.Name) {
			return nil, protocol.HandshakeNotAuthorized
		}
	}
	if s.config.MaxClients > 0 && s.registry.Len() >= s.config.MaxClients {
		return nil, protocol.HandshakeServerBusy
	}
	return hello, protocol.HandshakeOK
}

// rejectHandshake answers a failed handshake and closes the transport.
// The answer is best effort; the client may already be gone.
func (s *Server) rejectHandshake(sess *Session, status protocol.HandshakeStatus) {
	s.metrics.RecordHandshakeFailure(failureReason(status))
	s.logger.Warn("handshake rejected",
		"remote_addr", remoteAddr(sess),
		"status", status.String())

	reply := protocol.NewServerHelloError(status)
	f := protocol.NewFrame(protocol.FrameWelcome, protocol.EncodeServerHello(reply))
	_ = sess.writeFrame(f)

	sess.Close()
	sess.setState(StateClosed)
}

// adopt completes admission for a session that passed the handshake:
// Welcome, history replay, registration, writer start. Replay happens
// before registration so replayed chat and live chat cannot interleave;
// broadcasts that land in the gap queue on the outbox and flush once
// the writer starts.
func (s *Server) adopt(sess *Session) error {
	welcome := protocol.NewServerHello(sess.ID, uint64(time.Now().UnixMilli()))
	f := protocol.NewFrame(protocol.FrameWelcome, protocol.EncodeServerHello(welcome))
	if err := sess.writeFrame(f); err != nil {
		return NewSessionError(sess.ID, "welcome", err)
	}

	if s.history != nil {
		for _, m := range s.history.Tail(s.config.HistorySize) {
			replay := *m
			replay.Replay = true
			if err := sess.writeFrame(replay.Frame()); err != nil {
				return NewSessionError(sess.ID, "replay", err)
			}
		}
	}

	if err := s.registry.Register(sess); err != nil {
		return NewSessionError(sess.ID, "register", err)
	}
	s.metrics.RecordConnect()
	sess.startWriter()
	return nil
}

// receiveLoop consumes frames from an admitted client until the stream
// ends. Each iteration refreshes the idle deadline. Errors here are
// local to the session: the loop returns and teardown runs.
func (s *Server) receiveLoop(sess *Session) {
	for {
		sess.conn.SetReadDeadline(time.Now().Add(s.config.SessionConfig.ReadTimeout))
		f, err := sess.conn.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				sess.logger.Info("client disconnected")
			case sess.closed.Load():
				// Closed from our side (eviction or shutdown).
				sess.logger.Debug("receive loop ended", "error", err)
			default:
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					sess.logger.Info("idle timeout, closing session")
				} else {
					sess.logger.Warn("receive failed, closing session", "error", err)
				}
			}
			return
		}

		switch f.Type {
		case protocol.FrameChat:
			m, err := protocol.DecodeMessage(f)
			if err != nil {
				sess.logger.Warn("malformed chat frame, closing session", "error", err)
				return
			}
			if !s.handleChat(sess, m.Body) {
				return
			}
		case protocol.FrameHello:
			// Hello is only valid as the first frame.
			sess.logger.Warn("handshake frame after admission, closing session")
			return
		case protocol.FrameJoin, protocol.FrameLeave, protocol.FrameSystem:
			sess.logger.Warn("ignoring server-only frame from client",
				"frame_type", f.Type.String())
		default:
			sess.logger.Warn("unknown frame type, closing session",
				"frame_type", uint8(f.Type))
			return
		}
	}
}

// handleChat routes one chat body: commands are answered or acted on,
// everything else is broadcast with the sender excluded (senders render
// their own messages locally). The return value reports whether the
// receive loop should continue.
func (s *Server) handleChat(sess *Session, body string) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return true
	}

	switch body {
	case "!exit", "/quit":
		sess.logger.Info("client requested exit")
		return false
	case "!who", "/who":
		return s.sendRoster(sess)
	}

	msg := protocol.NewChat(sess.Name, body, time.Now())
	s.hub.Broadcast(s.ctx, msg, sess.ID)
	return true
}

// sendRoster answers a roster request. Only the requester sees the
// reply; it is not a broadcast.
func (s *Server) sendRoster(sess *Session) bool {
	names := s.registry.Names()

	var b strings.Builder
	fmt.Fprintf(&b, "%d USERS ONLINE:", len(names))
	for _, name := range names {
		b.WriteByte('\n')
		b.WriteString(name)
	}

	reply := protocol.NewSystem(b.String(), time.Now())
	if err := sess.Enqueue(reply.Frame()); err != nil {
		sess.logger.Warn("roster delivery failed, closing session", "error", err)
		return false
	}
	return true
}

// teardown runs exactly once per admitted session, in the session's own
// goroutine. Deregistration comes first so the departure announcement
// naturally excludes the leaver; a session evicted elsewhere still
// funnels through here because closing its transport ends the receive
// loop.
func (s *Server) teardown(sess *Session) {
	sess.setState(StateClosing)

	if _, err := s.registry.Deregister(sess.ID); err == nil {
		s.metrics.RecordDisconnect()
		leave := &protocol.Message{
			Kind:   protocol.KindLeave,
			Sender: sess.Name,
			Time:   uint64(time.Now().UnixMilli()),
		}
		s.hub.Broadcast(s.ctx, leave, "")
	}

	sess.Close()
	sess.awaitWriter()
	sess.setState(StateClosed)
}

// Shutdown gracefully stops the server: a farewell notice goes out,
// the listener closes, writers flush what they hold, and all sessions
// are torn down. It waits up to ShutdownTimeout for sessions to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down", "active_clients", s.registry.Len())

	notice := protocol.NewSystem("server is shutting down", time.Now())
	s.hub.Broadcast(ctx, notice, "")

	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Unlock()

	// Cancel session contexts while transports are still open: writers
	// wake, drain their outboxes (the farewell notice included), then
	// the transports close underneath the receive loops.
	s.cancel()
	for _, sess := range s.registry.Snapshot() {
		go func(sess *Session) {
			sess.awaitWriter()
			sess.Close()
		}(sess)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// failureReason maps a handshake status to a metrics label.
func failureReason(status protocol.HandshakeStatus) string {
	switch status {
	case protocol.HandshakeInvalidFormat:
		return "invalid_format"
	case protocol.HandshakeInvalidName:
		return "invalid_name"
	case protocol.HandshakeNotAuthorized:
		return "not_authorized"
	case protocol.HandshakeServerBusy:
		return "server_busy"
	case protocol.HandshakeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

func remoteAddr(sess *Session) string {
	if addr := sess.Addr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
