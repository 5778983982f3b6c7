package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind identifies what an envelope carries.
type Kind uint32

const (
	// Client -> server commands.
	KindJoinRoom Kind = iota + 1
	KindLeaveRoom
	KindSendMessage
	KindListRooms
	KindListUsers
	KindClientClosing

	// Server -> client responses and notifications.
	KindResponseOK Kind = iota + 95
	KindResponseError
	KindNotification
)

// String returns the wire name of the kind, for logs.
func (k Kind) String() string {
	switch k {
	case KindJoinRoom:
		return "join_room"
	case KindLeaveRoom:
		return "leave_room"
	case KindSendMessage:
		return "send_message"
	case KindListRooms:
		return "list_rooms"
	case KindListUsers:
		return "list_users"
	case KindClientClosing:
		return "client_closing"
	case KindResponseOK:
		return "response_ok"
	case KindResponseError:
		return "response_error"
	case KindNotification:
		return "notification"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Field limits of the fixed wire layout, in bytes.
const (
	MaxNameLen = 50
	MaxTextLen = 256

	// EnvelopeSize is the size of one encoded envelope:
	// kind and reply mailbox as uint32, then the three padded fields.
	EnvelopeSize = 4 + 4 + MaxNameLen + MaxNameLen + MaxTextLen
)

// Envelope is one routed unit of communication. It is immutable once
// constructed; field values longer than the wire limits are truncated
// during encoding, never rejected.
type Envelope struct {
	Kind         Kind
	ReplyMailbox uint32
	User         string
	Room         string
	Text         string
}

// Truncate clips s to at most max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// MarshalBinary encodes the envelope into its fixed wire layout.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EnvelopeSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Kind))
	binary.BigEndian.PutUint32(buf[4:8], e.ReplyMailbox)
	copy(buf[8:8+MaxNameLen], Truncate(e.User, MaxNameLen))
	copy(buf[8+MaxNameLen:8+2*MaxNameLen], Truncate(e.Room, MaxNameLen))
	copy(buf[8+2*MaxNameLen:], Truncate(e.Text, MaxTextLen))
	return buf, nil
}

// UnmarshalBinary decodes an envelope from its fixed wire layout.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) != EnvelopeSize {
		return fmt.Errorf("envelope: bad frame size %d, want %d", len(data), EnvelopeSize)
	}
	e.Kind = Kind(binary.BigEndian.Uint32(data[0:4]))
	e.ReplyMailbox = binary.BigEndian.Uint32(data[4:8])
	e.User = unpad(data[8 : 8+MaxNameLen])
	e.Room = unpad(data[8+MaxNameLen : 8+2*MaxNameLen])
	e.Text = unpad(data[8+2*MaxNameLen:])
	return nil
}

// unpad trims the NUL padding of a fixed-width field.
func unpad(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
