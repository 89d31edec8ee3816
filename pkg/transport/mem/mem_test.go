package mem

import (
    "errors"
    "io"
    "testing"
)

func TestStreamZeroLengthReadNeverReportsEOS(t *testing.T) {
    a, b := NewStreamPair()
    if err := a.Write(nil, true); err != nil { t.Fatalf("write eos: %v", err) }

    // same contract as socket-backed streams: a zero-length read cannot
    // observe end-of-stream
    eos, err := b.ReadExact(nil)
    if err != nil || eos {
        t.Fatalf("zero-length: eos=%v err=%v", eos, err)
    }

    // the end is still there for a real read
    buf := make([]byte, 1)
    if _, err := b.ReadExact(buf); !errors.Is(err, io.EOF) {
        t.Fatalf("read after eos = %v, want EOF", err)
    }
}

func TestStreamDeliveredBytesSurviveClose(t *testing.T) {
    a, b := NewStreamPair()
    if err := a.Write([]byte("tail"), true); err != nil { t.Fatalf("write: %v", err) }
    _ = a.Close()

    buf := make([]byte, 4)
    eos, err := b.ReadExact(buf)
    if err != nil { t.Fatalf("read: %v", err) }
    if !eos || string(buf) != "tail" {
        t.Fatalf("eos=%v buf=%q", eos, buf)
    }
}
