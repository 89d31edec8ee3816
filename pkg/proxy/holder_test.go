package proxy

import (
    "errors"
    "testing"

    "meshipc/pkg/memkv"
    "meshipc/pkg/peers"
    "meshipc/pkg/router"
)

func newTestRouter(t *testing.T) *router.Router {
    t.Helper()
    kv := memkv.New(memkv.Options{Shards: 2})
    t.Cleanup(kv.Close)
    return router.New(peers.NewStore(kv), nil, "local")
}

func TestRouterHolderUpgradesOnce(t *testing.T) {
    r := newTestRouter(t)
    h := NewRouterHolder(r.Weak())

    got1, err := h.Get()
    if err != nil || got1 != r {
        t.Fatalf("first get = %v, %v", got1, err)
    }
    got2, err := h.Get()
    if err != nil || got2 != got1 {
        t.Fatalf("second get = %v, %v; want cached strong ref", got2, err)
    }

    // the strong ref stays cached even after the router closes
    r.Close()
    got3, err := h.Get()
    if err != nil || got3 != got1 {
        t.Fatalf("get after close = %v, %v; holder must not re-upgrade", got3, err)
    }
}

func TestRouterHolderClosedRouter(t *testing.T) {
    r := newTestRouter(t)
    r.Close()
    h := NewRouterHolder(r.Weak())

    if _, err := h.Get(); !errors.Is(err, router.ErrClosed) {
        t.Fatalf("get on closed router = %v, want ErrClosed", err)
    }
    // the failure is cached too; no second upgrade attempt is observable
    if _, err := h.Get(); !errors.Is(err, router.ErrClosed) {
        t.Fatalf("second get = %v, want cached ErrClosed", err)
    }
}
