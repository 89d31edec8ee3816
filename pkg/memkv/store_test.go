package memkv

import (
    "sync"
    "testing"
    "time"
)

func newTestStore(t *testing.T) *Store {
    t.Helper()
    s := New(Options{Shards: 4})
    t.Cleanup(s.Close)
    return s
}

func TestSetGet(t *testing.T) {
    s := newTestStore(t)

    if created := s.Set("a", []byte("1"), 0); !created {
        t.Fatalf("first Set must report created")
    }
    if created := s.Set("a", []byte("2"), 0); created {
        t.Fatalf("second Set must report overwrite")
    }
    v, ok := s.Get("a")
    if !ok || string(v) != "2" {
        t.Fatalf("Get = %q, %v", v, ok)
    }
    if _, ok := s.Get("missing"); ok {
        t.Fatalf("Get on missing key must fail")
    }
}

func TestGetReturnsCopy(t *testing.T) {
    s := newTestStore(t)
    s.Set("k", []byte("abc"), 0)
    v, _ := s.Get("k")
    v[0] = 'X'
    v2, _ := s.Get("k")
    if string(v2) != "abc" {
        t.Fatalf("stored value mutated through returned slice: %q", v2)
    }
}

func TestGetDel(t *testing.T) {
    s := newTestStore(t)
    s.Set("k", []byte("v"), 0)
    v, ok := s.GetDel("k")
    if !ok || string(v) != "v" {
        t.Fatalf("GetDel = %q, %v", v, ok)
    }
    if s.Exists("k") {
        t.Fatalf("key must be gone after GetDel")
    }
}

func TestUpdate(t *testing.T) {
    s := newTestStore(t)
    if s.Update("k", func(old []byte) []byte { return []byte("x") }) {
        t.Fatalf("Update on missing key must fail")
    }
    s.Set("k", []byte("a"), 0)
    ok := s.Update("k", func(old []byte) []byte { return append(old, 'b') })
    if !ok {
        t.Fatalf("Update failed")
    }
    v, _ := s.Get("k")
    if string(v) != "ab" {
        t.Fatalf("updated value = %q", v)
    }
}

func TestExpiry(t *testing.T) {
    s := New(Options{Shards: 1})
    defer s.Close()

    base := time.Now()
    var mu sync.Mutex
    now := base
    s.nowFn = func() time.Time {
        mu.Lock()
        defer mu.Unlock()
        return now
    }

    s.Set("k", []byte("v"), 50*time.Millisecond)
    if !s.Exists("k") {
        t.Fatalf("key must exist before TTL elapses")
    }
    ttl, ok := s.TTL("k")
    if !ok || ttl <= 0 || ttl > 50*time.Millisecond {
        t.Fatalf("TTL = %v, %v", ttl, ok)
    }

    mu.Lock()
    now = base.Add(time.Second)
    mu.Unlock()

    if _, ok := s.Get("k"); ok {
        t.Fatalf("key must lazily expire on Get")
    }
    if _, ok := s.TTL("k"); ok {
        t.Fatalf("TTL must fail on expired key")
    }
}

func TestExpireExtendsTTL(t *testing.T) {
    s := newTestStore(t)
    s.Set("k", []byte("v"), time.Minute)
    if !s.Expire("k", time.Hour) {
        t.Fatalf("Expire on live key failed")
    }
    ttl, ok := s.TTL("k")
    if !ok || ttl <= 30*time.Minute {
        t.Fatalf("TTL after extend = %v, %v", ttl, ok)
    }
    if !s.Expire("k", 0) {
        t.Fatalf("Expire with zero TTL must delete")
    }
    if s.Exists("k") {
        t.Fatalf("key must be gone")
    }
}

func TestKeysPrefix(t *testing.T) {
    s := newTestStore(t)
    s.Set("peer:a", []byte("1"), 0)
    s.Set("peer:b", []byte("2"), 0)
    s.Set("other", []byte("3"), 0)
    ks := s.Keys("peer:")
    if len(ks) != 2 {
        t.Fatalf("Keys(peer:) = %v", ks)
    }
}

func TestMetrics(t *testing.T) {
    s := newTestStore(t)
    s.Set("a", []byte("1"), 0)
    s.Get("a")
    s.Get("missing")
    s.Delete("a")

    m := s.Snapshot()
    if m.Sets != 1 || m.Hits != 1 || m.Misses != 1 || m.Dels != 1 || m.Keys != 0 {
        t.Fatalf("metrics = %+v", m)
    }
}
