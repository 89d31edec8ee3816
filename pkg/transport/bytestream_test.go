package transport

import (
    "bytes"
    "errors"
    "io"
    "testing"
    "testing/iotest"
)

func TestReadFullEOSExactEnd(t *testing.T) {
    // DataErrReader delivers io.EOF together with the final bytes, the way
    // quic streams do.
    r := iotest.DataErrReader(bytes.NewReader([]byte("abcd")))
    b := make([]byte, 4)
    eos, err := ReadFullEOS(r, b)
    if err != nil { t.Fatalf("read: %v", err) }
    if !eos || string(b) != "abcd" {
        t.Fatalf("eos=%v b=%q", eos, b)
    }
}

func TestReadFullEOSMidStream(t *testing.T) {
    r := bytes.NewReader([]byte("abcdefgh"))
    b := make([]byte, 4)
    eos, err := ReadFullEOS(r, b)
    if err != nil { t.Fatalf("read: %v", err) }
    if eos || string(b) != "abcd" {
        t.Fatalf("eos=%v b=%q", eos, b)
    }
}

func TestReadFullEOSShortRead(t *testing.T) {
    r := iotest.DataErrReader(bytes.NewReader([]byte("ab")))
    b := make([]byte, 4)
    if _, err := ReadFullEOS(r, b); !errors.Is(err, io.ErrUnexpectedEOF) {
        t.Fatalf("err = %v, want unexpected EOF", err)
    }
}

func TestReadFullEOSCleanEnd(t *testing.T) {
    r := bytes.NewReader(nil)
    b := make([]byte, 4)
    eos, err := ReadFullEOS(r, b)
    if !errors.Is(err, io.EOF) || !eos {
        t.Fatalf("eos=%v err=%v, want clean EOF", eos, err)
    }
}

func TestReadFullEOSZeroLength(t *testing.T) {
    // zero-length reads perform no I/O and never report end-of-stream,
    // even when the stream has already ended
    r := iotest.DataErrReader(bytes.NewReader(nil))
    eos, err := ReadFullEOS(r, nil)
    if err != nil || eos {
        t.Fatalf("eos=%v err=%v, want false/nil", eos, err)
    }
}
