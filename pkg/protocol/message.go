package protocol

import (
	"errors"
	"time"
)

// Kind classifies a chat message. It is a closed set: every switch over
// Kind in this module handles all variants explicitly so a new kind
// cannot silently fall through.
type Kind uint8

const (
	KindChat   Kind = 0x00 // User-authored text
	KindJoin   Kind = 0x01 // A client entered the chat
	KindLeave  Kind = 0x02 // A client left the chat
	KindSystem Kind = 0x03 // Server notice (roster replies, shutdown, ...)
)

// String returns the string representation of the message kind.
func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindJoin, KindLeave, KindSystem:
		return true
	default:
		return false
	}
}

// FrameType returns the frame type that carries messages of this kind.
func (k Kind) FrameType() FrameType {
	switch k {
	case KindChat:
		return FrameChat
	case KindJoin:
		return FrameJoin
	case KindLeave:
		return FrameLeave
	case KindSystem:
		return FrameSystem
	default:
		return FrameSystem
	}
}

// KindForFrame returns the message kind carried by the given frame type.
// Hello and Welcome frames do not carry messages; ok is false for them
// and for unknown frame types.
func KindForFrame(ft FrameType) (Kind, bool) {
	switch ft {
	case FrameChat:
		return KindChat, true
	case FrameJoin:
		return KindJoin, true
	case FrameLeave:
		return KindLeave, true
	case FrameSystem:
		return KindSystem, true
	case FrameHello, FrameWelcome:
		return 0, false
	default:
		return 0, false
	}
}

// Message errors.
var (
	ErrNotMessage = errors.New("protocol: frame does not carry a message")
)

// Message is one unit of chat traffic: a user line or a server
// announcement. Messages are immutable once constructed and have no
// identity beyond the current delivery.
type Message struct {
	Kind   Kind   // Variant tag; also the frame type on the wire
	Sender string // Display name; empty for system messages
	Body   string // Text payload
	Time   uint64 // Server time in Unix milliseconds
	Replay bool   // True when re-sent from history to a new client
}

// Timestamp returns the message time as a time.Time.
func (m *Message) Timestamp() time.Time {
	return time.UnixMilli(int64(m.Time))
}

// NewChat creates a chat message stamped with the given server time.
func NewChat(sender, body string, at time.Time) *Message {
	return &Message{
		Kind:   KindChat,
		Sender: sender,
		Body:   body,
		Time:   uint64(at.UnixMilli()),
	}
}

// NewSystem creates a system notice.
func NewSystem(body string, at time.Time) *Message {
	return &Message{
		Kind: KindSystem,
		Body: body,
		Time: uint64(at.UnixMilli()),
	}
}

// EncodeMessage encodes the message payload (sender, body, time).
// The kind travels as the frame type, not in the payload.
func EncodeMessage(m *Message) []byte {
	e := NewEncoderWithCap(len(m.Sender) + len(m.Body) + 16)
	EncodeMessageTo(e, m)
	return e.Bytes()
}

// EncodeMessageTo encodes a message payload using the provided encoder.
func EncodeMessageTo(e *Encoder, m *Message) {
	e.WriteString(m.Sender)
	e.WriteString(m.Body)
	e.WriteUint64(m.Time)
}

// DecodeMessage decodes a message from a frame. The frame type supplies
// the kind and the Replay flag is lifted off the frame flags.
// Returns ErrNotMessage for Hello, Welcome, and unknown frame types.
func DecodeMessage(f *Frame) (*Message, error) {
	kind, ok := KindForFrame(f.Type)
	if !ok {
		return nil, ErrNotMessage
	}

	d := NewDecoder(f.Payload)
	m := &Message{
		Kind:   kind,
		Replay: f.Flags.Has(FlagReplay),
	}
	var err error

	m.Sender, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	m.Body, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	m.Time, err = d.ReadUint64()
	if err != nil {
		return nil, err
	}

	if err := d.Finish(); err != nil {
		return nil, err
	}

	return m, nil
}

// Frame packs the message into a wire frame.
func (m *Message) Frame() *Frame {
	var flags FrameFlags
	if m.Replay {
		flags |= FlagReplay
	}
	return NewFrameWithFlags(m.Kind.FrameType(), flags, EncodeMessage(m))
}
