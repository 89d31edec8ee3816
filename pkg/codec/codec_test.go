package codec

import (
    "testing"

    "google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
    c := JSON()
    in := map[string]any{"a": 1, "b": "x"}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out["a"].(float64) != 1 || out["b"].(string) != "x" {
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestCBORCodec(t *testing.T) {
    c, err := CBOR()
    if err != nil { t.Fatalf("new cbor: %v", err) }
    in := map[string]any{"n": 42}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if int(out["n"].(uint64)) != 42 && int(out["n"].(float64)) != 42 { // decoder may choose num type
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestProtoCodec(t *testing.T) {
    c := Proto()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    if err != nil { t.Fatalf("struct: %v", err) }
    b, err := c.Marshal(s)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out structpb.Struct
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("roundtrip mismatch") }
}

func TestRawCodecPassThrough(t *testing.T) {
    r := NewRegistry()
    in := []byte{0x00, 0xfe, 0x01}
    b, err := EncodeBody(r, FormatRaw, in)
    if err != nil { t.Fatalf("encode: %v", err) }
    if Format(b[0]) != FormatRaw { t.Fatalf("format byte = %d", b[0]) }
    var out []byte
    f, err := DecodeBody(r, b, &out)
    if err != nil { t.Fatalf("decode: %v", err) }
    if f != FormatRaw || string(out) != string(in) {
        t.Fatalf("f=%v out=%x", f, out)
    }

    if _, err := EncodeBody(r, FormatRaw, 42); err == nil {
        t.Fatalf("non-bytes value must fail")
    }
    var wrong int
    if _, err := DecodeBody(r, b, &wrong); err == nil {
        t.Fatalf("non-bytes target must fail")
    }
}

func TestBodyFormatPrefix(t *testing.T) {
    r := NewRegistry()
    b, err := EncodeBody(r, FormatJSON, map[string]any{"ok": true})
    if err != nil { t.Fatalf("encode: %v", err) }
    if Format(b[0]) != FormatJSON { t.Fatalf("format byte = %d", b[0]) }
    var out map[string]any
    f, err := DecodeBody(r, b, &out)
    if err != nil { t.Fatalf("decode: %v", err) }
    if f != FormatJSON || out["ok"] != true { t.Fatalf("f=%v out=%#v", f, out) }

    if _, err := DecodeBody(r, nil, &out); err == nil {
        t.Fatalf("empty payload must fail")
    }
}
