// Package protocol defines the packets exchanged between chat peers and
// the framing used to carry them over a byte stream.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformedPacket is returned when a packet body cannot be decoded.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrFieldCount is returned by CheckFields when a packet carries the
	// wrong number of fields for its type.
	ErrFieldCount = errors.New("wrong field count")
)

// PacketType represents the kind of a packet
type PacketType int

const (
	PacketTypeRegistration PacketType = iota + 1
	PacketTypeNameDenied
	PacketTypeWelcome
	PacketTypeQuit
	PacketTypeMessage
	PacketTypeMap
)

// String returns the string representation of PacketType
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeRegistration:
		return "REGISTRATION"
	case PacketTypeNameDenied:
		return "NAME_DENIED"
	case PacketTypeWelcome:
		return "WELCOME"
	case PacketTypeQuit:
		return "QUIT"
	case PacketTypeMessage:
		return "MESSAGE"
	case PacketTypeMap:
		return "MAP"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether pt is one of the known packet types.
func (pt PacketType) Valid() bool {
	return pt >= PacketTypeRegistration && pt <= PacketTypeMap
}

// ExpectedFields returns the names of the fields carried by a packet of the
// given type, in wire order. It returns nil for unknown types.
func ExpectedFields(pt PacketType) []string {
	switch pt {
	case PacketTypeRegistration:
		return []string{"from"}
	case PacketTypeNameDenied:
		return []string{"deniedName"}
	case PacketTypeWelcome:
		return []string{"clientId", "username"}
	case PacketTypeQuit:
		return []string{"clientId"}
	case PacketTypeMessage:
		return []string{"from", "body"}
	case PacketTypeMap:
		return []string{"map"}
	default:
		return nil
	}
}

// CheckFields reports whether fields matches the field table of pt.
func CheckFields(pt PacketType, fields []string) error {
	want := ExpectedFields(pt)
	if want == nil {
		return fmt.Errorf("unknown packet type %d", pt)
	}
	if len(fields) != len(want) {
		return fmt.Errorf("%w: %s takes %d (%v), got %d", ErrFieldCount, pt, len(want), want, len(fields))
	}
	return nil
}

// Packet is the unit of application data exchanged over a connection.
type Packet struct {
	Type     PacketType
	SenderID string
	Fields   []string
}

// NewPacket builds a packet of the given type.
func NewPacket(pt PacketType, senderID string, fields ...string) Packet {
	return Packet{Type: pt, SenderID: senderID, Fields: fields}
}

// Field returns the i-th field, or the empty string when absent.
func (p *Packet) Field(i int) string {
	if i < 0 || i >= len(p.Fields) {
		return ""
	}
	return p.Fields[i]
}

// Body field numbers. The body is laid out in protobuf wire format:
//
//	1: type      (varint)
//	2: sender_id (bytes)
//	3: fields    (repeated bytes)
const (
	fieldType     protowire.Number = 1
	fieldSenderID protowire.Number = 2
	fieldFields   protowire.Number = 3
)

// Encode encodes the packet body. Fields are always emitted in field
// number order, so equal packets produce equal bytes.
func (p *Packet) Encode() ([]byte, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("failed to encode packet: unknown type %d", p.Type)
	}

	size := protowire.SizeTag(fieldType) + protowire.SizeVarint(uint64(p.Type)) +
		protowire.SizeTag(fieldSenderID) + protowire.SizeBytes(len(p.SenderID))
	for _, f := range p.Fields {
		size += protowire.SizeTag(fieldFields) + protowire.SizeBytes(len(f))
	}

	b := make([]byte, 0, size)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Type))
	b = protowire.AppendTag(b, fieldSenderID, protowire.BytesType)
	b = protowire.AppendString(b, p.SenderID)
	for _, f := range p.Fields {
		b = protowire.AppendTag(b, fieldFields, protowire.BytesType)
		b = protowire.AppendString(b, f)
	}
	return b, nil
}

// Decode decodes a packet body produced by Encode. On failure the packet
// is left unchanged and the error wraps ErrMalformedPacket.
func (p *Packet) Decode(data []byte) error {
	var (
		out     Packet
		sawType bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("tag", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return malformed("type", protowire.ParseError(n))
			}
			data = data[n:]
			out.Type = PacketType(v)
			if v > uint64(PacketTypeMap) || !out.Type.Valid() {
				return malformed("type", fmt.Errorf("unknown packet type %d", v))
			}
			sawType = true
		case num == fieldSenderID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return malformed("sender id", protowire.ParseError(n))
			}
			data = data[n:]
			out.SenderID = s
		case num == fieldFields && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return malformed("field", protowire.ParseError(n))
			}
			data = data[n:]
			out.Fields = append(out.Fields, s)
		default:
			return malformed("body", fmt.Errorf("unexpected field %d with wire type %d", num, typ))
		}
	}

	if !sawType {
		return malformed("type", errors.New("missing packet type"))
	}

	*p = out
	return nil
}

func malformed(part string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPacket, part, err)
}
