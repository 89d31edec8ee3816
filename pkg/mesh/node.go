// Package mesh wires the transports, session manager, router and proxy layer
// into a running node: it listens, dials with backoff, exchanges signed
// hellos, and serves handle transfers on inbound proxy streams.
package mesh

import (
    "context"
    "crypto/ed25519"
    "fmt"
    "sync"

    "go.uber.org/zap"

    "meshipc/pkg/capability"
    "meshipc/pkg/codec"
    "meshipc/pkg/config"
    "meshipc/pkg/identity"
    "meshipc/pkg/memkv"
    "meshipc/pkg/peers"
    "meshipc/pkg/proxy"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/router"
    "meshipc/pkg/transport"
    "meshipc/pkg/transport/mem"
    "meshipc/pkg/transport/p2p"
    "meshipc/pkg/transport/quic"
    "meshipc/pkg/transport/tcp"
    "meshipc/pkg/transport/winpipe"
)

// HandleSink receives capabilities that remote peers transferred to this
// node, together with the announced target node and transfer extra bytes.
type HandleSink func(h capability.Handle, from transport.PeerID, bt frame.BeginTransfer)

// MessageSink receives typed messages addressed to this node. payload is the
// format-prefixed body produced by a Serializer; DecodeMessage unwraps it.
type MessageSink func(from transport.PeerID, payload []byte)

// Node is a running mesh participant.
type Node struct {
    cfg     *config.Config
    priv    ed25519.PrivateKey
    localID transport.PeerID

    kv     *memkv.Store
    ps     *peers.Store
    mgr    *transport.Manager
    rtr    *router.Router
    reg    *proxy.SessionRegistry
    codecs *codec.Registry

    sink HandleSink

    mu          sync.Mutex
    helloSent   map[transport.Session]bool
    msgSink     MessageSink
    serializers map[transport.PeerID]*proxy.Serializer

    cancel context.CancelFunc
    wg     sync.WaitGroup
}

// StartFromConfig builds and starts a node. sink may be nil; transferred-in
// capabilities are then closed on arrival.
func StartFromConfig(ctx context.Context, cfg *config.Config, sink HandleSink) (*Node, error) {
    priv, localID, err := identity.LoadOrGenEd25519(cfg.Identity)
    if err != nil {
        return nil, fmt.Errorf("mesh: identity: %w", err)
    }

    kv := memkv.New(memkv.Options{})
    ps := peers.NewStore(kv)
    mgr := transport.NewManager()
    rtr := router.New(ps, mgr, localID)

    ctx, cancel := context.WithCancel(ctx)
    n := &Node{
        cfg:         cfg,
        priv:        priv,
        localID:     localID,
        kv:          kv,
        ps:          ps,
        mgr:         mgr,
        rtr:         rtr,
        reg:         proxy.NewSessionRegistry(),
        codecs:      newCodecRegistry(),
        sink:        sink,
        helloSent:   make(map[transport.Session]bool),
        serializers: make(map[transport.PeerID]*proxy.Serializer),
        cancel:      cancel,
    }

    opts := dialOptionsFromConfig(cfg.Net)
    for _, tc := range cfg.Transports {
        tr, err := buildTransport(tc)
        if err != nil {
            cancel()
            return nil, err
        }
        for _, addr := range tc.Listen {
            l, err := tr.Listen(ctx, addr)
            if err != nil {
                cancel()
                return nil, fmt.Errorf("mesh: listen %s %s: %w", tc.Kind, addr, err)
            }
            zap.L().Info("listening", zap.String("kind", tc.Kind), zap.String("addr", l.Addr().String()))
            n.wg.Add(1)
            go func() { defer n.wg.Done(); n.acceptLoop(ctx, l) }()
        }
        for _, d := range tc.Dial {
            d := d
            n.wg.Add(1)
            go func() { defer n.wg.Done(); n.dialLoop(ctx, tr, d.Address, d.PeerID, opts) }()
        }
    }

    zap.L().Info("node started", zap.String("local", string(localID)), zap.String("name", cfg.NodeID))
    return n, nil
}

func buildTransport(tc config.TransportConfig) (transport.Transport, error) {
    switch tc.Kind {
    case "quic":
        return quic.New(), nil
    case "tcp":
        return tcp.New(), nil
    case "mem":
        return mem.New(), nil
    case "winpipe":
        return winpipe.New(), nil
    case "p2p":
        // the libp2p host owns its listen addrs directly
        return p2p.New(tc.Listen...)
    default:
        return nil, fmt.Errorf("mesh: unknown transport kind %q", tc.Kind)
    }
}

// LocalID returns the canonical local peer id.
func (n *Node) LocalID() transport.PeerID { return n.localID }

// Router exposes the node's router (for Weak refs and route inspection).
func (n *Node) Router() *router.Router { return n.rtr }

// Peers exposes the node's peer store.
func (n *Node) Peers() *peers.Store { return n.ps }

// Sessions exposes the proxy session registry.
func (n *Node) Sessions() *proxy.SessionRegistry { return n.reg }

// TransferHandle hands a local capability to target: it routes a proxy
// stream towards the target and runs the transfer handshake over it. The
// capability is consumed on success.
func (n *Node) TransferHandle(ctx context.Context, target transport.PeerID, h capability.Handle, extra []byte) error {
    p, err := proxy.NewProxyable(h)
    if err != nil {
        return err
    }
    st, err := n.rtr.OpenProxyStream(ctx, target)
    if err != nil {
        return err
    }
    stats := frame.NewStats()
    ph := proxy.NewHandle(p, n.rtr.Weak(), stats)
    id := n.reg.Add(&proxy.Session{Peer: target, Handle: ph, Stats: stats})
    defer n.reg.Remove(id)

    w := frame.NewWriter(st, stats)
    r := frame.NewReader(st)
    defer func() { _ = st.Close() }()
    if err := proxy.SendHandle(ph, w, r, string(target), extra); err != nil {
        return err
    }
    n.ps.RecordExchange(target, 0, stats.BytesSent(), 0, stats.MessagesSent())
    return nil
}

// Close tears the node down: router first so holders observe closure, then
// all sessions, then the background loops.
func (n *Node) Close() {
    n.rtr.Close()
    n.cancel()
    n.mgr.CloseAll()
    n.wg.Wait()
    n.kv.Close()
    zap.L().Info("node stopped", zap.String("local", string(n.localID)))
}
