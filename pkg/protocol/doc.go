// Package protocol implements the binary wire protocol for Parley.
//
// The protocol carries chat traffic between clients and the relay
// server over any ordered, reliable transport: a TCP stream or a
// WebSocket bridge. It is deliberately small: one handshake exchange
// followed by a stream of self-delimiting message frames.
//
// # Design Goals
//
//   - Self-delimiting: frame boundaries are always recoverable from
//     the header alone, with no look-ahead into the stream
//   - Fast encoding/decoding: no reflection, direct byte manipulation
//   - Bounded allocation: length prefixes are validated before any
//     buffer is allocated
//
// # Wire Format
//
// All messages are framed with a 4-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (2 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameHello (0x00): Client → Server handshake request
//   - FrameWelcome (0x01): Server → Client handshake response
//   - FrameChat (0x02): User chat message
//   - FrameJoin (0x03): Join announcement
//   - FrameLeave (0x04): Leave announcement
//   - FrameSystem (0x05): Server notice
//
// # Handshake
//
// Connection establishment uses ClientHello and ServerHello messages:
//
//	Client                          Server
//	  │                                │
//	  │──── ClientHello ─────────────>│
//	  │     (name, token)             │
//	  │                                │
//	  │<──── ServerHello ─────────────│
//	  │     (status, id, time)        │
//	  │                                │
//
// The Hello must be the first frame on every connection. Any Welcome
// status other than HandshakeOK means the client was rejected and the
// connection is about to close; a rejected client is never announced
// to anyone else.
//
// # Messages
//
// Chat, Join, Leave, and System frames all carry the same payload
// shape; the message kind travels as the frame type:
//
//	[Sender: len-prefixed string][Body: len-prefixed string][Time: uint64]
//
// Time is server-assigned Unix milliseconds. Frames re-sent from the
// history buffer to a newly admitted client carry the FlagReplay flag
// so clients can render them apart from live traffic.
//
// # Encoding
//
//   - Varint: compact length prefixes (protobuf-style)
//   - Length-prefixed: strings carry a varint length then UTF-8 bytes
//   - Big-endian: fixed-width integers
//
// Decoders validate length prefixes against MaxStringSize and require
// payloads to be fully consumed, so a malformed or truncated frame is
// detected at the boundary where it arrives.
//
// # Usage Example
//
//	// Client side: open, handshake, send a line
//	conn := protocol.NewStreamConn(tcpConn)
//	hello := protocol.NewClientHello("alice", "")
//	conn.WriteFrame(protocol.NewFrame(protocol.FrameHello, protocol.EncodeClientHello(hello)))
//
//	welcome, err := conn.ReadFrame()
//	// check welcome.Type == protocol.FrameWelcome and status == HandshakeOK
//
//	msg := protocol.NewChat("alice", "hi", time.Now())
//	protocol.WriteMessage(conn, msg)
package protocol
