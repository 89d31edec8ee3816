// Package frame turns one ordered byte stream into a sequence of discrete,
// typed, length-delimited frames and back. It carries proxied capability
// traffic: payload bytes are opaque at this layer.
package frame

import (
    "encoding/binary"
    "fmt"
    "math"
)

// Type discriminates frame kinds on a proxied stream.
type Type uint32

const (
    // TypeData carries one proxied message payload.
    TypeData Type = iota
    // TypeHello opens a handle-transfer handshake.
    TypeHello
    // TypeBeginTransfer announces the transfer target node plus opaque extra.
    TypeBeginTransfer
    // TypeAckTransfer acknowledges BeginTransfer.
    TypeAckTransfer
    // TypeEndTransfer completes a transfer; no further frames follow.
    TypeEndTransfer
    // TypeShutdown aborts the stream, carrying a reason.
    TypeShutdown

    numTypes
)

func (t Type) String() string {
    switch t {
    case TypeData:
        return "data"
    case TypeHello:
        return "hello"
    case TypeBeginTransfer:
        return "begin_transfer"
    case TypeAckTransfer:
        return "ack_transfer"
    case TypeEndTransfer:
        return "end_transfer"
    case TypeShutdown:
        return "shutdown"
    default:
        return fmt.Sprintf("type(%d)", uint32(t))
    }
}

// Header wire format: one little-endian 64-bit word, always 8 bytes.
//
//  bits 0..31   payload length (u32)
//  bits 32..63  frame type discriminant (u32)
const HeaderSize = 8

// Header precedes exactly Length bytes of opaque payload on the wire.
type Header struct {
    Type   Type
    Length int
}

// ErrLengthOverflow is returned when a payload cannot be described in 32 bits.
type ErrLengthOverflow struct{ Length int }

func (e *ErrLengthOverflow) Error() string {
    return fmt.Sprintf("frame: payload length %d exceeds u32", e.Length)
}

// ErrUnknownType reports an unrecognized discriminant on decode.
type ErrUnknownType struct{ Value uint32 }

func (e *ErrUnknownType) Error() string {
    return fmt.Sprintf("frame: unknown frame type %d", e.Value)
}

// MarshalBinary encodes the header to its 8-byte form.
func (h Header) MarshalBinary() ([]byte, error) {
    if h.Length < 0 || uint64(h.Length) > math.MaxUint32 {
        return nil, &ErrLengthOverflow{Length: h.Length}
    }
    word := uint64(h.Length) | uint64(h.Type)<<32
    buf := make([]byte, HeaderSize)
    binary.LittleEndian.PutUint64(buf, word)
    return buf, nil
}

// UnmarshalBinary decodes an 8-byte header. Unknown discriminants fail with
// their numeric value reported.
func (h *Header) UnmarshalBinary(buf []byte) error {
    if len(buf) < HeaderSize {
        return fmt.Errorf("frame: short header (%d bytes)", len(buf))
    }
    word := binary.LittleEndian.Uint64(buf)
    typ := uint32(word >> 32)
    if typ >= uint32(numTypes) {
        return &ErrUnknownType{Value: typ}
    }
    h.Type = Type(typ)
    h.Length = int(uint32(word))
    return nil
}
