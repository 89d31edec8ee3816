package mesh

import (
    "context"

    "go.uber.org/zap"

    "meshipc/pkg/codec"
    "meshipc/pkg/proxy"
    "meshipc/pkg/transport"
)

// newCodecRegistry builds the node's payload codec set: JSON and protobuf
// come preloaded, CBOR is the default wire format for typed messages.
func newCodecRegistry() *codec.Registry {
    r := codec.NewRegistry()
    if c, err := codec.CBOR(); err == nil {
        r.Register(c)
    }
    r.Register(codec.Raw())
    return r
}

// SetMessageSink installs the receiver for typed messages. Messages arriving
// while no sink is set are dropped.
func (n *Node) SetMessageSink(sink MessageSink) {
    n.mu.Lock()
    n.msgSink = sink
    n.mu.Unlock()
}

// SendTyped encodes v with the node's codec registry and routes it to target
// as a one-shot Data frame. Each target gets one long-lived serializer, so a
// burst of messages to the same peer resolves the router once.
func (n *Node) SendTyped(ctx context.Context, target transport.PeerID, v any) error {
    s := n.serializerFor(target)
    n.mu.Lock()
    defer n.mu.Unlock()
    return s.SendEncoded(ctx, v)
}

// DecodeMessage unwraps a payload delivered to the MessageSink.
func (n *Node) DecodeMessage(payload []byte, v any) (codec.Format, error) {
    return codec.DecodeBody(n.codecs, payload, v)
}

// serializerFor returns the cached per-target serializer, creating it on
// first use. Serializers hold their own RouterHolder; calls are serialized
// on the node mutex because holders resolve lazily and unsynchronized.
func (n *Node) serializerFor(target transport.PeerID) *proxy.Serializer {
    n.mu.Lock()
    defer n.mu.Unlock()
    if s, ok := n.serializers[target]; ok {
        return s
    }
    s := proxy.NewSerializer(n.codecs, codec.FormatCBOR, target, proxy.NewRouterHolder(n.rtr.Weak()))
    n.serializers[target] = s
    return s
}

// deliverMessage hands an inbound Data payload to the message sink.
func (n *Node) deliverMessage(s transport.Session, payload []byte) {
    from := s.Peer().ID
    n.ps.RecordExchange(from, uint64(len(payload)), 0, 1, 0)

    n.mu.Lock()
    sink := n.msgSink
    n.mu.Unlock()
    if sink == nil {
        zap.L().Debug("message dropped, no sink",
            zap.String("peer", string(from)), zap.Int("len", len(payload)))
        return
    }
    sink(from, payload)
}
