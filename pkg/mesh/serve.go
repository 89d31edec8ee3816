package mesh

import (
    "context"

    "go.uber.org/zap"

    "meshipc/pkg/capability"
    "meshipc/pkg/proxy"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/transport"
)

// serveSession accepts streams on one session until it dies. Streams are
// classified by their first frame: a Data frame is a one-shot typed message,
// a Hello with a body is a signed identity hello, an empty Hello opens a
// handle transfer.
func (n *Node) serveSession(ctx context.Context, s transport.Session) {
    defer func() {
        n.mu.Lock()
        delete(n.helloSent, s)
        n.mu.Unlock()
    }()
    for {
        st, err := s.AcceptStream(ctx)
        if err != nil {
            select {
            case <-ctx.Done():
            default:
                zap.L().Debug("session closed", zap.String("peer", string(s.Peer().ID)), zap.Error(err))
            }
            return
        }
        n.wg.Add(1)
        go func() { defer n.wg.Done(); n.serveStream(ctx, s, st) }()
    }
}

func (n *Node) serveStream(ctx context.Context, s transport.Session, st transport.ByteStream) {
    r := frame.NewReader(st)
    typ, payload, _, err := r.Next()
    if err != nil {
        _ = st.Close()
        return
    }
    if typ == frame.TypeData {
        // one-shot typed message sent through a serializer
        n.deliverMessage(s, payload)
        _ = st.Close()
        return
    }
    if typ != frame.TypeHello {
        zap.L().Warn("stream opened without hello",
            zap.String("peer", string(s.Peer().ID)), zap.String("frame", typ.String()))
        w := frame.NewWriter(st, nil)
        if sd, serr := frame.NewShutdown("expected hello"); serr == nil {
            _ = w.Send(sd.Type, sd.Payload, true)
        }
        _ = st.Close()
        return
    }

    if len(payload) > 0 {
        // signed identity hello
        if err := n.handleHello(ctx, s, payload); err != nil {
            zap.L().Warn("hello rejected", zap.String("peer", string(s.Peer().ID)), zap.Error(err))
        }
        _ = st.Close()
        return
    }

    n.serveTransfer(ctx, s, st, r)
}

// serveTransfer runs the accepting half of a handle transfer: a fresh local
// capability is built, the incoming queue is replayed onto it, and the
// reconstructed capability is handed to the sink.
func (n *Node) serveTransfer(ctx context.Context, s transport.Session, st transport.ByteStream, r *frame.Reader) {
    from := s.Peer().ID

    // replayed Data frames are written through proxyEnd and land on app's
    // read queue; app is the endpoint delivered to the sink
    proxyEnd, app := capability.NewChannelPair()
    p, err := proxy.NewProxyable(proxyEnd)
    if err != nil {
        _ = st.Close()
        return
    }
    stats := frame.NewStats()
    ph := proxy.NewHandle(p, n.rtr.Weak(), stats)
    id := n.reg.Add(&proxy.Session{Peer: from, Handle: ph, Stats: stats})
    defer n.reg.Remove(id)

    w := frame.NewWriter(st, stats)
    raw, bt, err := proxy.ReceiveHandleAfterHello(ctx, ph, w, r)
    if err != nil {
        zap.L().Warn("transfer failed", zap.String("peer", string(from)), zap.Error(err))
        _ = app.Close()
        _ = st.Close()
        return
    }
    n.ps.RecordExchange(from, 0, stats.BytesSent(), 0, stats.MessagesSent())
    _ = st.Close()

    // mirror the initiator: its endpoint was consumed, so the replayed
    // queue ends in a peer-closed condition once drained
    _ = raw.Close()
    if n.sink == nil {
        _ = app.Close()
        return
    }
    n.sink(app, from, bt)
}
