package mesh

import (
    "context"
    "fmt"
    "time"

    "go.uber.org/zap"

    "meshipc/pkg/identity"
    "meshipc/pkg/peers"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/transport"
)

// retired temp:* peer entries linger briefly after rebind for debugging
const tempPeerLinger = 30 * time.Second

// sendHello writes a signed hello on a fresh one-shot control stream. The
// body distinguishes it from the empty Hello that opens a handle transfer.
// At most one hello goes out per session, so two peers answering each other
// cannot ping-pong.
func (n *Node) sendHello(ctx context.Context, s transport.Session) error {
    n.mu.Lock()
    if n.helloSent[s] {
        n.mu.Unlock()
        return nil
    }
    n.helloSent[s] = true
    n.mu.Unlock()

    st, err := s.OpenStream(ctx, transport.StreamControl)
    if err != nil {
        return err
    }
    he, err := identity.NewHello(n.priv, n.cfg.NodeID)
    if err != nil {
        return err
    }
    body, err := frame.EncodeControl(he)
    if err != nil {
        return err
    }
    w := frame.NewWriter(st, nil)
    return w.Send(frame.TypeHello, body, true)
}

// handleHello verifies an inbound signed hello and rebinds the session's
// temporary peer id to the canonical pk:ed25519 id.
func (n *Node) handleHello(ctx context.Context, s transport.Session, body []byte) error {
    var he identity.Hello
    if err := frame.DecodeControl(body, &he); err != nil {
        return fmt.Errorf("mesh: decode hello: %w", err)
    }
    if err := he.Verify(); err != nil {
        return err
    }
    canonical := transport.CanonicalPeerIDFromPubKey(he.Alg, he.PublicKey)
    old := s.Peer().ID

    if old != canonical {
        if n.mgr.RebindPeer(old, canonical) {
            zap.L().Info("peer verified",
                zap.String("temp", string(old)),
                zap.String("peer", string(canonical)),
                zap.String("name", he.NodeName))
            n.ps.RemoveConnectedDirect(n.localID, old)
            n.ps.ExpirePeer(old, tempPeerLinger)
        }
    }
    addr := ""
    if ra := s.RemoteAddr(); ra != nil {
        addr = ra.String()
    }
    n.ps.Upsert(peerMetaFromHello(canonical, he, addr))
    n.ps.AddConnectedDirect(n.localID, canonical)

    // answer with our own hello so a dial-only peer learns our identity
    if err := n.sendHello(ctx, s); err != nil {
        zap.L().Debug("hello answer failed", zap.Error(err))
    }
    return nil
}

func peerMetaFromHello(id transport.PeerID, he identity.Hello, addr string) peers.PeerMeta {
    m := peers.PeerMeta{
        ID:        id,
        NodeName:  he.NodeName,
        Alg:       he.Alg,
        PublicKey: he.PublicKey,
        Reachable: true,
        LastSeen:  time.Now().UnixMilli(),
    }
    if addr != "" {
        m.Addresses = []string{addr}
    }
    return m
}
