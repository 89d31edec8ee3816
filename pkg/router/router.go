// Package router computes forwarding decisions over the peer adjacency graph
// and hands out streams towards remote peers. A Router can be observed through
// weak references (Ref) so that long-lived proxy state does not keep a closed
// router alive.
package router

import (
    "container/heap"
    "context"
    "errors"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "meshipc/pkg/peers"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/transport"
)

var (
    ErrNoRoute = errors.New("no route")
    ErrClosed  = errors.New("router closed")
)

// Router selects next hops with Dijkstra over known direct adjacencies, using
// live session quality for edges that originate locally.
type Router struct {
    ps      *peers.Store
    mgr     *transport.Manager
    localID transport.PeerID
    closed  atomic.Bool
}

func New(ps *peers.Store, mgr *transport.Manager, local transport.PeerID) *Router {
    return &Router{ps: ps, mgr: mgr, localID: local}
}

// LocalID returns the router's own peer identity.
func (r *Router) LocalID() transport.PeerID { return r.localID }

// Close marks the router as shut down. Existing Refs stop upgrading and
// routing operations fail with ErrClosed.
func (r *Router) Close() {
    if r.closed.CompareAndSwap(false, true) {
        zap.L().Info("router closed", zap.String("local", string(r.localID)))
    }
}

func (r *Router) isClosed() bool { return r.closed.Load() }

// Weak returns a weak reference to this router. Upgrading the Ref fails once
// the router has been closed.
func (r *Router) Weak() *Ref { return &Ref{r: r} }

// Ref is a weak handle to a Router.
type Ref struct {
    r *Router
}

// Upgrade returns the underlying router, or ErrClosed if it has shut down.
func (w *Ref) Upgrade() (*Router, error) {
    if w == nil || w.r == nil || w.r.isClosed() {
        return nil, ErrClosed
    }
    return w.r, nil
}

// NextHopForPeer returns the immediate neighbor to forward towards target and
// the full computed path (starting at the local peer).
func (r *Router) NextHopForPeer(target transport.PeerID) (transport.PeerID, []transport.PeerID, bool) {
    if r.isClosed() {
        return "", nil, false
    }
    path := r.findPathDijkstra(r.localID, target)
    if len(path) >= 2 {
        zap.L().Debug("route computed", zap.String("target", string(target)), zap.Any("path", path))
        return path[1], path, true
    }
    return "", nil, false
}

// OpenProxyStream routes towards target and opens a proxy-class stream on the
// canonical session to the first hop.
func (r *Router) OpenProxyStream(ctx context.Context, target transport.PeerID) (transport.ByteStream, error) {
    if r.isClosed() {
        return nil, ErrClosed
    }
    nh, _, ok := r.NextHopForPeer(target)
    if !ok {
        return nil, ErrNoRoute
    }
    sess := r.mgr.GetSession(nh)
    if sess == nil {
        return nil, ErrNoRoute
    }
    zap.L().Debug("open proxy stream", zap.String("target", string(target)), zap.String("next_hop", string(nh)))
    return sess.OpenStream(ctx, transport.StreamProxy)
}

// SendBytesToPeer routes towards target and writes b as a one-shot Data
// frame on a fresh control stream to the first hop. The frame type is what
// lets the receiving session layer tell messages apart from hellos and
// transfer streams.
func (r *Router) SendBytesToPeer(ctx context.Context, target transport.PeerID, b []byte) error {
    if r.isClosed() {
        return ErrClosed
    }
    nh, _, ok := r.NextHopForPeer(target)
    if !ok {
        return ErrNoRoute
    }
    sess := r.mgr.GetSession(nh)
    if sess == nil {
        return ErrNoRoute
    }
    st, err := sess.OpenStream(ctx, transport.StreamControl)
    if err != nil {
        return err
    }
    defer st.Close()
    return frame.NewWriter(st, nil).Send(frame.TypeData, b, true)
}

// ---- graph + Dijkstra ----

type graph struct {
    adj map[string]map[string]float64 // from -> (to -> weight)
}

func buildGraph(ps *peers.Store, mgr *transport.Manager, local transport.PeerID) graph {
    g := graph{adj: make(map[string]map[string]float64)}
    for _, id := range ps.ListPeerIDs() {
        pm, ok := ps.Get(id)
        if !ok {
            continue
        }
        from := string(id)
        for _, to := range pm.ConnectedDirectIDs {
            if g.adj[from] == nil {
                g.adj[from] = make(map[string]float64)
            }
            g.adj[from][to] = edgeWeight(mgr, local, transport.PeerID(from), transport.PeerID(to))
        }
    }
    return g
}

func edgeWeight(mgr *transport.Manager, local, from, to transport.PeerID) float64 {
    // Live session metrics are only available for edges that start here.
    if from == local && mgr != nil {
        if s := mgr.GetSession(to); s != nil {
            q := s.Quality()
            base := linkBaseCost(s.TransportKind())
            rtt := float64(q.RTT) / float64(time.Millisecond)
            loss := float64(q.LossRatio)
            return base + rtt/10.0 + loss*50.0
        }
    }
    return 100.0
}

func linkBaseCost(k transport.Kind) float64 {
    switch k {
    case transport.KindMem, transport.KindWinPipe:
        return 0.5
    case transport.KindQUICDirect:
        return 1.0
    case transport.KindTCPDirect:
        return 2.0
    case transport.KindP2P:
        return 3.0
    default:
        return 10.0
    }
}

func (r *Router) findPathDijkstra(src, dst transport.PeerID) []transport.PeerID {
    g := buildGraph(r.ps, r.mgr, r.localID)
    start, goal := string(src), string(dst)
    dist := map[string]float64{start: 0}
    prev := map[string]string{}
    pq := &nodePQ{}
    heap.Init(pq)
    heap.Push(pq, nodeItem{id: start, prio: 0})
    visited := map[string]bool{}

    for pq.Len() > 0 {
        cur := heap.Pop(pq).(nodeItem)
        if visited[cur.id] {
            continue
        }
        visited[cur.id] = true
        if cur.id == goal {
            break
        }
        for nb, w := range g.adj[cur.id] {
            nd := dist[cur.id] + w
            if old, ok := dist[nb]; !ok || nd < old {
                dist[nb] = nd
                prev[nb] = cur.id
                heap.Push(pq, nodeItem{id: nb, prio: nd})
            }
        }
    }
    if _, ok := dist[goal]; !ok {
        return nil
    }
    var rev []string
    for at := goal; at != ""; at = prev[at] {
        rev = append(rev, at)
        if at == start {
            break
        }
    }
    path := make([]transport.PeerID, len(rev))
    for i := range rev {
        path[i] = transport.PeerID(rev[len(rev)-1-i])
    }
    return path
}

type nodeItem struct {
    id   string
    prio float64
}

type nodePQ []nodeItem

func (p nodePQ) Len() int            { return len(p) }
func (p nodePQ) Less(i, j int) bool  { return p[i].prio < p[j].prio }
func (p nodePQ) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *nodePQ) Push(x interface{}) { *p = append(*p, x.(nodeItem)) }
func (p *nodePQ) Pop() interface{} {
    old := *p
    n := len(old)
    x := old[n-1]
    *p = old[:n-1]
    return x
}
