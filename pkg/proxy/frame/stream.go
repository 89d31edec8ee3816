package frame

import (
    "fmt"

    "meshipc/pkg/transport"
)

// Writer frames outbound traffic onto one ByteStream. The header is written
// first and never signals end-of-stream, so a peer can always fully decode it
// before needing the body even under partial delivery; the payload write
// carries the end-of-stream signal when requested.
type Writer struct {
    st    transport.ByteStream
    stats *Stats
}

// NewWriter wraps st. stats may be shared with other writers of the same
// proxy session; nil disables accounting.
func NewWriter(st transport.ByteStream, stats *Stats) *Writer {
    return &Writer{st: st, stats: stats}
}

// Send writes one frame. Stats move only after both writes complete.
func (w *Writer) Send(t Type, payload []byte, endOfStream bool) error {
    hb, err := Header{Type: t, Length: len(payload)}.MarshalBinary()
    if err != nil {
        return err
    }
    if err := w.st.Write(hb, false); err != nil {
        return fmt.Errorf("frame: write header: %w", err)
    }
    if err := w.st.Write(payload, endOfStream); err != nil {
        return fmt.Errorf("frame: write payload: %w", err)
    }
    if w.stats != nil {
        w.stats.record(HeaderSize + len(payload))
    }
    return nil
}

// SendFrame writes f without closing the stream.
func (w *Writer) SendFrame(f Frame) error { return w.Send(f.Type, f.Payload, false) }

// Close releases the underlying stream.
func (w *Writer) Close() error { return w.st.Close() }

// Reader decodes frames from one ByteStream.
type Reader struct {
    st transport.ByteStream
}

// NewReader wraps st.
func NewReader(st transport.ByteStream) *Reader { return &Reader{st: st} }

// Next blocks until a full frame is available or the stream ends/errors.
// Partial frames are never returned. eos reports whether the underlying
// stream signaled end-of-stream on the payload read.
func (r *Reader) Next() (t Type, payload []byte, eos bool, err error) {
    hb := make([]byte, HeaderSize)
    if _, err := r.st.ReadExact(hb); err != nil {
        return 0, nil, false, err
    }
    var h Header
    if err := h.UnmarshalBinary(hb); err != nil {
        return 0, nil, false, err
    }
    payload = make([]byte, h.Length)
    eos, err = r.st.ReadExact(payload)
    if err != nil {
        return 0, nil, false, err
    }
    return h.Type, payload, eos, nil
}

// NextFrame is Next returning a Frame value.
func (r *Reader) NextFrame() (Frame, bool, error) {
    t, p, eos, err := r.Next()
    if err != nil {
        return Frame{}, false, err
    }
    return Frame{Type: t, Payload: p}, eos, nil
}

// Close releases the underlying stream; it unblocks an in-progress Next on
// the same stream.
func (r *Reader) Close() error { return r.st.Close() }
