package frame

import (
    "fmt"

    cbor "github.com/fxamacker/cbor/v2"
)

// Frame is one decoded unit of protocol traffic on a proxied stream. Frames
// are exchanged, never persisted.
type Frame struct {
    Type    Type
    Payload []byte // Data payload or encoded control body
}

// BeginTransfer is the control body announcing a handle transfer.
type BeginTransfer struct {
    PeerNode string `cbor:"peer_node"`
    Extra    []byte `cbor:"extra,omitempty"`
}

// Shutdown is the control body aborting a stream.
type Shutdown struct {
    Reason string `cbor:"reason"`
}

var (
    ctrlEnc cbor.EncMode
    ctrlDec cbor.DecMode
)

func init() {
    // Deterministic control bodies: both peers must agree byte-for-byte when
    // transcripts are signed or compared.
    em, err := cbor.CanonicalEncOptions().EncMode()
    if err != nil { panic(err) }
    dm, err := cbor.DecOptions{}.DecMode()
    if err != nil { panic(err) }
    ctrlEnc, ctrlDec = em, dm
}

// EncodeControl serializes a control body (BeginTransfer, Shutdown, or any
// hello body supplied by the session layer).
func EncodeControl(v any) ([]byte, error) { return ctrlEnc.Marshal(v) }

// DecodeControl parses a control body.
func DecodeControl(data []byte, v any) error { return ctrlDec.Unmarshal(data, v) }

// NewData wraps payload bytes in a Data frame.
func NewData(payload []byte) Frame { return Frame{Type: TypeData, Payload: payload} }

// NewHello returns a Hello frame with an optional body.
func NewHello(body []byte) Frame { return Frame{Type: TypeHello, Payload: body} }

// NewBeginTransfer builds a BeginTransfer frame addressed to peerNode.
func NewBeginTransfer(peerNode string, extra []byte) (Frame, error) {
    b, err := EncodeControl(BeginTransfer{PeerNode: peerNode, Extra: extra})
    if err != nil {
        return Frame{}, fmt.Errorf("frame: encode begin_transfer: %w", err)
    }
    return Frame{Type: TypeBeginTransfer, Payload: b}, nil
}

// NewAckTransfer returns an empty AckTransfer frame.
func NewAckTransfer() Frame { return Frame{Type: TypeAckTransfer} }

// NewEndTransfer returns an empty EndTransfer frame.
func NewEndTransfer() Frame { return Frame{Type: TypeEndTransfer} }

// NewShutdown builds a Shutdown frame carrying reason.
func NewShutdown(reason string) (Frame, error) {
    b, err := EncodeControl(Shutdown{Reason: reason})
    if err != nil {
        return Frame{}, fmt.Errorf("frame: encode shutdown: %w", err)
    }
    return Frame{Type: TypeShutdown, Payload: b}, nil
}

// BeginTransferBody decodes the control body of a BeginTransfer frame.
func (f Frame) BeginTransferBody() (BeginTransfer, error) {
    if f.Type != TypeBeginTransfer {
        return BeginTransfer{}, fmt.Errorf("frame: %s is not begin_transfer", f.Type)
    }
    var bt BeginTransfer
    if err := DecodeControl(f.Payload, &bt); err != nil {
        return BeginTransfer{}, fmt.Errorf("frame: decode begin_transfer: %w", err)
    }
    return bt, nil
}

// ShutdownBody decodes the control body of a Shutdown frame.
func (f Frame) ShutdownBody() (Shutdown, error) {
    if f.Type != TypeShutdown {
        return Shutdown{}, fmt.Errorf("frame: %s is not shutdown", f.Type)
    }
    var sd Shutdown
    if err := DecodeControl(f.Payload, &sd); err != nil {
        return Shutdown{}, fmt.Errorf("frame: decode shutdown: %w", err)
    }
    return sd, nil
}
