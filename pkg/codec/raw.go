package codec

import "fmt"

type rawCodec struct{}

// Raw returns a pass-through codec for opaque byte payloads.
// Content-Type: application/octet-stream
func Raw() Codec { return rawCodec{} }

func (rawCodec) ContentType() string { return ContentUnknown }

func (rawCodec) Marshal(v any) ([]byte, error) {
    b, ok := v.([]byte)
    if !ok {
        return nil, fmt.Errorf("raw: value is not []byte: %T", v)
    }
    return b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
    p, ok := v.(*[]byte)
    if !ok {
        return fmt.Errorf("raw: target is not *[]byte: %T", v)
    }
    *p = append((*p)[:0], data...)
    return nil
}
