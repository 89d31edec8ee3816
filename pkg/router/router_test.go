package router

import (
    "testing"

    "meshipc/pkg/memkv"
    "meshipc/pkg/peers"
    "meshipc/pkg/transport"
)

func newTestRouter(t *testing.T, local transport.PeerID) (*Router, *peers.Store) {
    t.Helper()
    kv := memkv.New(memkv.Options{Shards: 4})
    t.Cleanup(kv.Close)
    ps := peers.NewStore(kv)
    return New(ps, nil, local), ps
}

func TestNextHopDirect(t *testing.T) {
    r, ps := newTestRouter(t, "a")
    ps.AddConnectedDirect("a", "b")
    nh, path, ok := r.NextHopForPeer("b")
    if !ok || nh != "b" {
        t.Fatalf("next hop = %q, ok=%v", nh, ok)
    }
    if len(path) != 2 || path[0] != "a" || path[1] != "b" {
        t.Fatalf("path = %v", path)
    }
}

func TestNextHopMultiHop(t *testing.T) {
    r, ps := newTestRouter(t, "a")
    ps.AddConnectedDirect("a", "b")
    ps.AddConnectedDirect("b", "c")
    nh, path, ok := r.NextHopForPeer("c")
    if !ok || nh != "b" {
        t.Fatalf("next hop = %q, ok=%v", nh, ok)
    }
    if len(path) != 3 || path[2] != "c" {
        t.Fatalf("path = %v", path)
    }
}

func TestNoRoute(t *testing.T) {
    r, ps := newTestRouter(t, "a")
    ps.AddConnectedDirect("a", "b")
    if _, _, ok := r.NextHopForPeer("z"); ok {
        t.Fatalf("unreachable peer must have no route")
    }
}

func TestWeakRefUpgrade(t *testing.T) {
    r, _ := newTestRouter(t, "a")
    ref := r.Weak()
    got, err := ref.Upgrade()
    if err != nil || got != r {
        t.Fatalf("upgrade before close: %v, %v", got, err)
    }
    r.Close()
    if _, err := ref.Upgrade(); err != ErrClosed {
        t.Fatalf("upgrade after close = %v, want ErrClosed", err)
    }
    var nilRef *Ref
    if _, err := nilRef.Upgrade(); err != ErrClosed {
        t.Fatalf("nil ref upgrade = %v, want ErrClosed", err)
    }
}

func TestClosedRouterRefusesRouting(t *testing.T) {
    r, ps := newTestRouter(t, "a")
    ps.AddConnectedDirect("a", "b")
    r.Close()
    if _, _, ok := r.NextHopForPeer("b"); ok {
        t.Fatalf("closed router must not route")
    }
}
