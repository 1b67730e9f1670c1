// Package relay implements the chat room core: the registry of
// connected clients, the hub that fans messages out to them, and the
// server that runs one session per transport connection.
//
// # Session lifecycle
//
// A connection moves through a fixed sequence of states:
//
//	Connecting → Handshaking → Active → Closing → Closed
//
// Nothing a client sends before a valid Hello is interpreted, and a
// client appears in the room only between registration and
// deregistration. Teardown always runs in the session's own goroutine:
// components that want a session gone close its transport and let the
// receive loop do the rest.
//
// # Delivery
//
// The hub never writes to a transport. It enqueues the encoded frame
// onto each recipient's bounded outbox; a dedicated writer goroutine
// per session drains the outbox under a per-frame write deadline. A
// full outbox or an expired deadline marks that one recipient
// unreachable without touching the others, so a stalled client cannot
// slow the room down.
//
// # Transports
//
// The server speaks protocol frames over anything that implements
// protocol.Conn. The TCP accept loop wraps net.Conn in
// protocol.NewStreamConn; the HTTP gateway bridges websockets into the
// same HandleConn path.
package relay
