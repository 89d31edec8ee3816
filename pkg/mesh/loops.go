package mesh

import (
    "context"
    "time"

    "go.uber.org/zap"

    "meshipc/pkg/config"
    "meshipc/pkg/transport"
)

type dialOptions struct {
    BackoffInitial time.Duration
    BackoffMax     time.Duration
    BackoffJitter  time.Duration
}

func dialOptionsFromConfig(nc config.NetConfig) dialOptions {
    o := dialOptions{
        BackoffInitial: time.Duration(nc.DialBackoffInitialMS) * time.Millisecond,
        BackoffMax:     time.Duration(nc.DialBackoffMaxMS) * time.Millisecond,
        BackoffJitter:  time.Duration(nc.DialBackoffJitterMS) * time.Millisecond,
    }
    if o.BackoffInitial <= 0 {
        o.BackoffInitial = 500 * time.Millisecond
    }
    if o.BackoffMax <= 0 {
        o.BackoffMax = 30 * time.Second
    }
    return o
}

func (n *Node) acceptLoop(ctx context.Context, l transport.Listener) {
    for {
        s, err := l.Accept(ctx)
        if err != nil {
            select {
            case <-ctx.Done():
                return
            default:
            }
            zap.L().Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
            return
        }
        peer := s.Peer()
        zap.L().Info("inbound session",
            zap.String("peer", string(peer.ID)),
            zap.String("kind", s.TransportKind().String()))
        accepted, replaced, old, _ := n.mgr.AddSession(ctx, s)
        if replaced && old != nil {
            _ = old.Close()
        }
        if !accepted {
            _ = s.Close()
            continue
        }
        n.recordLink(peer.ID, s)
        n.wg.Add(1)
        go func() { defer n.wg.Done(); n.serveSession(ctx, s) }()
    }
}

func (n *Node) dialLoop(ctx context.Context, tr transport.Transport, address, peerID string, opts dialOptions) {
    pid := transport.PeerID(peerID)
    if pid == "" {
        pid = transport.PeerID("temp:" + tr.Kind().String() + ":" + address)
    }
    peer := transport.PeerInfo{ID: pid, Addr: address}

    backoff := opts.BackoffInitial
    for {
        select {
        case <-ctx.Done():
            return
        default:
        }
        sess, err := tr.Dial(ctx, address, peer)
        if err != nil {
            zap.L().Warn("dial failed", zap.String("kind", tr.Kind().String()), zap.String("addr", address), zap.Error(err))
            if !sleepCtx(ctx, withJitter(backoff, opts.BackoffJitter)) {
                return
            }
            backoff = nextBackoff(backoff, opts.BackoffMax)
            continue
        }
        backoff = opts.BackoffInitial

        accepted, replaced, old, _ := n.mgr.AddSession(ctx, sess)
        zap.L().Info("dialed", zap.String("kind", tr.Kind().String()), zap.String("addr", address),
            zap.Bool("accepted", accepted), zap.Bool("replaced", replaced))
        if old != nil {
            _ = old.Close()
        }
        if !accepted {
            _ = sess.Close()
            if !sleepCtx(ctx, withJitter(backoff, opts.BackoffJitter)) {
                return
            }
            backoff = nextBackoff(backoff, opts.BackoffMax)
            continue
        }
        n.recordLink(peer.ID, sess)
        if err := n.sendHello(ctx, sess); err != nil {
            zap.L().Warn("send hello on dial failed", zap.Error(err))
        }
        // serveSession returns when the session dies; then redial.
        n.serveSession(ctx, sess)
        if !sleepCtx(ctx, withJitter(backoff, opts.BackoffJitter)) {
            return
        }
        backoff = nextBackoff(backoff, opts.BackoffMax)
    }
}

func (n *Node) recordLink(pid transport.PeerID, s transport.Session) {
    addr := ""
    if ra := s.RemoteAddr(); ra != nil {
        addr = ra.String()
    }
    n.ps.Touch(pid, addr, time.Now())
    n.ps.RecordQuality(pid, s.Quality())
    n.ps.AddConnectedDirect(n.localID, pid)
}

func nextBackoff(cur, max time.Duration) time.Duration {
    cur *= 2
    if cur > max {
        return max
    }
    return cur
}

func withJitter(d, jitter time.Duration) time.Duration {
    if jitter <= 0 {
        return d
    }
    // add 0..jitter
    return d + time.Duration(time.Now().UnixNano()%int64(jitter))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
