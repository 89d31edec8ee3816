// Package proxy bridges local capability handles to framed streams: outbound
// traffic of a channel or socket is drained into Data frames, inbound frames
// are replayed onto the local handle, and the transfer handshake migrates
// ownership of a handle between peers.
package proxy

import (
    "context"
    "fmt"

    "meshipc/pkg/capability"
    "meshipc/pkg/codec"
    "meshipc/pkg/transport"
)

// Proxyable is the capability set the proxying machinery is generic over.
// One implementation exists per capability kind; both expose the same
// one-message-at-a-time read/write contract so the drain loops and the
// transfer state machine stay kind-agnostic.
type Proxyable interface {
    // Handle decomposes the proxyable back into its raw capability endpoint.
    Handle() capability.Handle
    // ReadMessage performs one local read, suspending via ctx until a
    // message is ready.
    ReadMessage(ctx context.Context) ([]byte, error)
    // TryReadMessage performs one local read without suspending; returns
    // capability.ErrShouldWait when nothing is queued.
    TryReadMessage() ([]byte, error)
    // WriteMessage performs one local write.
    WriteMessage(ctx context.Context, msg []byte) error
    Close() error
}

// NewProxyable wraps a raw capability endpoint in the matching Proxyable
// implementation, selected by kind at construction time.
func NewProxyable(h capability.Handle) (Proxyable, error) {
    switch v := h.(type) {
    case *capability.Channel:
        return channelProxy{ch: v}, nil
    case *capability.Socket:
        return socketProxy{sk: v}, nil
    default:
        return nil, fmt.Errorf("proxy: unsupported capability kind %s", h.Kind())
    }
}

type channelProxy struct{ ch *capability.Channel }

func (p channelProxy) Handle() capability.Handle { return p.ch }
func (p channelProxy) ReadMessage(ctx context.Context) ([]byte, error) {
    return p.ch.Read(ctx)
}
func (p channelProxy) TryReadMessage() ([]byte, error) { return p.ch.TryRead() }
func (p channelProxy) WriteMessage(ctx context.Context, msg []byte) error {
    return p.ch.Write(ctx, msg)
}
func (p channelProxy) Close() error { return p.ch.Close() }

type socketProxy struct{ sk *capability.Socket }

func (p socketProxy) Handle() capability.Handle { return p.sk }
func (p socketProxy) ReadMessage(ctx context.Context) ([]byte, error) {
    return p.sk.Read(ctx)
}
func (p socketProxy) TryReadMessage() ([]byte, error) { return p.sk.TryRead() }
func (p socketProxy) WriteMessage(ctx context.Context, msg []byte) error {
    return p.sk.Write(ctx, msg)
}
func (p socketProxy) Close() error { return p.sk.Close() }

// Serializer encodes typed channel payloads for a fixed destination. It owns
// a RouterHolder so a burst of messages for one peer resolves the router at
// most once.
type Serializer struct {
    Registry *codec.Registry
    Format   codec.Format
    Target   transport.PeerID
    Router   *RouterHolder
}

func NewSerializer(reg *codec.Registry, f codec.Format, target transport.PeerID, rh *RouterHolder) *Serializer {
    return &Serializer{Registry: reg, Format: f, Target: target, Router: rh}
}

// Encode serializes v with the serializer's format, prefixed by the format
// byte.
func (s *Serializer) Encode(v any) ([]byte, error) {
    return codec.EncodeBody(s.Registry, s.Format, v)
}

// Decode decodes a payload produced by Encode.
func (s *Serializer) Decode(payload []byte, v any) (codec.Format, error) {
    return codec.DecodeBody(s.Registry, payload, v)
}

// SendEncoded encodes v and routes it to the serializer's target peer. The
// router is resolved lazily through the holder.
func (s *Serializer) SendEncoded(ctx context.Context, v any) error {
    b, err := s.Encode(v)
    if err != nil {
        return err
    }
    r, err := s.Router.Get()
    if err != nil {
        return err
    }
    return r.SendBytesToPeer(ctx, s.Target, b)
}
