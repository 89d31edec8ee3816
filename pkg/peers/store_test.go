package peers

import (
    "testing"
    "time"

    "meshipc/pkg/memkv"
    "meshipc/pkg/transport"
)

func newTestStore(t *testing.T) *Store {
    t.Helper()
    kv := memkv.New(memkv.Options{Shards: 4})
    t.Cleanup(kv.Close)
    return NewStore(kv)
}

func TestUpsertGet(t *testing.T) {
    s := newTestStore(t)
    s.Upsert(PeerMeta{ID: "pk:ed25519:abc", NodeName: "n1", Addresses: []string{"1.2.3.4:1"}})
    pm, ok := s.Get("pk:ed25519:abc")
    if !ok || pm.NodeName != "n1" || len(pm.Addresses) != 1 {
        t.Fatalf("Get = %+v, %v", pm, ok)
    }
    if _, ok := s.Get("missing"); ok {
        t.Fatalf("Get on unknown peer must fail")
    }
}

func TestTouchAddsAddressOnce(t *testing.T) {
    s := newTestStore(t)
    now := time.Now()
    s.Touch("p1", "10.0.0.1:9", now)
    s.Touch("p1", "10.0.0.1:9", now)
    s.Touch("p1", "10.0.0.2:9", now)
    pm, _ := s.Get("p1")
    if len(pm.Addresses) != 2 {
        t.Fatalf("addresses = %v", pm.Addresses)
    }
    if pm.LastSeen != now.UnixMilli() || !pm.Reachable {
        t.Fatalf("meta = %+v", pm)
    }
}

func TestAdjacency(t *testing.T) {
    s := newTestStore(t)
    s.AddConnectedDirect("a", "b")
    s.AddConnectedDirect("a", "b") // idempotent
    s.AddConnectedDirect("a", "a") // self edge ignored
    pm, _ := s.Get("a")
    if len(pm.ConnectedDirectIDs) != 1 || pm.ConnectedDirectIDs[0] != "b" {
        t.Fatalf("adjacency = %v", pm.ConnectedDirectIDs)
    }
    s.RemoveConnectedDirect("a", "b")
    pm, _ = s.Get("a")
    if len(pm.ConnectedDirectIDs) != 0 {
        t.Fatalf("adjacency after remove = %v", pm.ConnectedDirectIDs)
    }
}

func TestRecordExchange(t *testing.T) {
    s := newTestStore(t)
    s.RecordExchange("p", 10, 20, 1, 2)
    s.RecordExchange("p", 5, 5, 1, 1)
    pm, _ := s.Get("p")
    if pm.BytesIn != 15 || pm.BytesOut != 25 || pm.MsgsIn != 2 || pm.MsgsOut != 3 {
        t.Fatalf("counters = %+v", pm)
    }
}

func TestDeletePeerRemovesAdjacency(t *testing.T) {
    s := newTestStore(t)
    s.AddConnectedDirect("a", "b")
    s.AddConnectedDirect("c", "b")
    s.DeletePeer("b")
    for _, id := range []transport.PeerID{"a", "c"} {
        pm, _ := s.Get(id)
        if len(pm.ConnectedDirectIDs) != 0 {
            t.Fatalf("peer %s still lists deleted adjacency: %v", id, pm.ConnectedDirectIDs)
        }
    }
    if _, ok := s.Get("b"); ok {
        t.Fatalf("deleted peer still present")
    }
}
