package transport

import "io"

// ByteStream is one ordered, reliable, bidirectional stream. Both operations
// may suspend; neither retries. The framed codec sits directly on top of it.
type ByteStream interface {
    // Write sends b. When endOfStream is set the write side is closed after
    // the bytes are queued; the peer observes end-of-stream once it has
    // consumed everything written before it.
    Write(b []byte, endOfStream bool) error

    // ReadExact fills b completely and reports whether the stream signaled
    // end-of-stream on the final byte. It never returns a partial fill
    // without an error. A zero-length read performs no I/O and never
    // reports end-of-stream; socket-backed streams cannot observe it
    // without consuming a byte.
    ReadExact(b []byte) (endOfStream bool, err error)

    // Close releases the stream in both directions. A peer blocked on the
    // stream observes closure, never a silent hang.
    Close() error
}

// ReadFullEOS fills b from r, preserving end-of-stream knowledge that
// io.ReadFull discards: eos is true when the stream ended exactly on the
// final byte of b. A short read is io.ErrUnexpectedEOF; a clean end before
// any byte is io.EOF with eos set. An empty b reads nothing and reports no
// end-of-stream, matching the ByteStream contract.
func ReadFullEOS(r io.Reader, b []byte) (eos bool, err error) {
    if len(b) == 0 {
        return false, nil
    }
    n := 0
    for n < len(b) {
        nn, rerr := r.Read(b[n:])
        n += nn
        if rerr == io.EOF {
            if n == len(b) {
                return true, nil
            }
            if n == 0 {
                // Clean end between frames.
                return true, io.EOF
            }
            return true, io.ErrUnexpectedEOF
        }
        if rerr != nil {
            return false, rerr
        }
    }
    return false, nil
}
