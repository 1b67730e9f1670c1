package protocol

import "regexp"

// Display names are 2-32 chars of [A-Za-z0-9_-].
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{2,32}$`)

// ValidName reports whether name is acceptable as a display name. The
// same rule applies to handshake names and registered account names.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// HandshakeStatus represents the result of a handshake.
type HandshakeStatus uint8

const (
	HandshakeOK            HandshakeStatus = 0x00
	HandshakeInvalidFormat HandshakeStatus = 0x01 // First frame was not a well-formed Hello
	HandshakeInvalidName   HandshakeStatus = 0x02 // Display name failed validation
	HandshakeNotAuthorized HandshakeStatus = 0x03 // Token missing or invalid
	HandshakeServerBusy    HandshakeStatus = 0x04 // Client limit reached
	HandshakeTimeout       HandshakeStatus = 0x05 // Hello did not arrive in time
	HandshakeInternalError HandshakeStatus = 0x06 // Server error
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeInvalidFormat:
		return "InvalidFormat"
	case HandshakeInvalidName:
		return "InvalidName"
	case HandshakeNotAuthorized:
		return "NotAuthorized"
	case HandshakeServerBusy:
		return "ServerBusy"
	case HandshakeTimeout:
		return "Timeout"
	case HandshakeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// ClientHello is the first frame a client must send after connecting.
// Until a valid Hello arrives the server admits nothing from the peer.
type ClientHello struct {
	Name  string // Desired display name
	Token string // Session token; empty unless the server requires auth
}

// ServerHello is the server's response to ClientHello. A non-OK status
// means the client was rejected and the connection is about to close.
type ServerHello struct {
	Status     HandshakeStatus // Handshake result
	ClientID   string          // Assigned client identifier; empty on rejection
	ServerTime uint64          // Server time in Unix milliseconds
}

// EncodeClientHello encodes a ClientHello to bytes.
func EncodeClientHello(ch *ClientHello) []byte {
	e := NewEncoder()
	EncodeClientHelloTo(e, ch)
	return e.Bytes()
}

// EncodeClientHelloTo encodes a ClientHello using the provided encoder.
func EncodeClientHelloTo(e *Encoder, ch *ClientHello) {
	e.WriteString(ch.Name)
	e.WriteString(ch.Token)
}

// DecodeClientHello decodes a ClientHello from bytes.
func DecodeClientHello(data []byte) (*ClientHello, error) {
	d := NewDecoder(data)
	return DecodeClientHelloFrom(d)
}

// DecodeClientHelloFrom decodes a ClientHello from a decoder.
func DecodeClientHelloFrom(d *Decoder) (*ClientHello, error) {
	ch := &ClientHello{}
	var err error

	ch.Name, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	ch.Token, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	if err := d.Finish(); err != nil {
		return nil, err
	}

	return ch, nil
}

// EncodeServerHello encodes a ServerHello to bytes.
func EncodeServerHello(sh *ServerHello) []byte {
	e := NewEncoder()
	EncodeServerHelloTo(e, sh)
	return e.Bytes()
}

// EncodeServerHelloTo encodes a ServerHello using the provided encoder.
func EncodeServerHelloTo(e *Encoder, sh *ServerHello) {
	e.WriteByte(byte(sh.Status))
	e.WriteString(sh.ClientID)
	e.WriteUint64(sh.ServerTime)
}

// DecodeServerHello decodes a ServerHello from bytes.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	d := NewDecoder(data)
	return DecodeServerHelloFrom(d)
}

// DecodeServerHelloFrom decodes a ServerHello from a decoder.
func DecodeServerHelloFrom(d *Decoder) (*ServerHello, error) {
	sh := &ServerHello{}

	status, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	sh.Status = HandshakeStatus(status)

	sh.ClientID, err = d.ReadString()
	if err != nil {
		return nil, err
	}

	sh.ServerTime, err = d.ReadUint64()
	if err != nil {
		return nil, err
	}

	if err := d.Finish(); err != nil {
		return nil, err
	}

	return sh, nil
}

// NewClientHello creates a ClientHello for the given display name.
func NewClientHello(name, token string) *ClientHello {
	return &ClientHello{
		Name:  name,
		Token: token,
	}
}

// NewServerHello creates a successful ServerHello.
func NewServerHello(clientID string, serverTime uint64) *ServerHello {
	return &ServerHello{
		Status:     HandshakeOK,
		ClientID:   clientID,
		ServerTime: serverTime,
	}
}

// NewServerHelloError creates a ServerHello with an error status.
func NewServerHelloError(status HandshakeStatus) *ServerHello {
	return &ServerHello{
		Status: status,
	}
}
