// Package memkv is a sharded in-memory key/value store with per-key TTL.
// It backs the peer store; values are opaque byte slices and are always
// copied on the way in and out.
package memkv

import (
    "container/heap"
    "sync"
    "sync/atomic"
    "time"
)

// Options tunes a Store.
type Options struct {
    Shards int // shard count, default 64
}

func (o Options) withDefaults() Options {
    if o.Shards <= 0 {
        o.Shards = 64
    }
    return o
}

// Store is safe for concurrent use.
type Store struct {
    opts    Options
    shards  []shard
    expq    expQueue
    expMu   sync.Mutex
    expCond *sync.Cond
    closeCh chan struct{}
    wg      sync.WaitGroup

    nowFn func() time.Time

    mKeys    atomic.Uint64
    mSets    atomic.Uint64
    mGets    atomic.Uint64
    mHits    atomic.Uint64
    mMisses  atomic.Uint64
    mDels    atomic.Uint64
    mExpired atomic.Uint64
    mUpdates atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = no expiry
}

func New(opts Options) *Store {
    opts = opts.withDefaults()
    s := &Store{
        opts:    opts,
        shards:  make([]shard, opts.Shards),
        closeCh: make(chan struct{}),
        nowFn:   time.Now,
    }
    s.expCond = sync.NewCond(&s.expMu)
    for i := range s.shards {
        s.shards[i].m = make(map[string]*entry, 64)
    }
    s.wg.Add(1)
    go s.expirer()
    return s
}

// Close stops the background expirer and waits for it.
func (s *Store) Close() {
    close(s.closeCh)
    s.expMu.Lock()
    s.expCond.Broadcast()
    s.expMu.Unlock()
    s.wg.Wait()
}

// FNV-1a, inlined for shard selection.
func (s *Store) shardFor(key string) *shard {
    var h uint64 = 1469598103934665603
    for i := 0; i < len(key); i++ {
        h ^= uint64(key[i])
        h *= 1099511628211
    }
    return &s.shards[int(h%uint64(len(s.shards)))]
}

func clone(b []byte) []byte {
    out := make([]byte, len(b))
    copy(out, b)
    return out
}

// Set stores val under key with an optional TTL (0 = no expiry).
// Returns true when the key was created rather than overwritten.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
    expAt := int64(0)
    if ttl > 0 {
        expAt = s.nowFn().Add(ttl).UnixNano()
    }
    sh := s.shardFor(key)
    sh.mu.Lock()
    _, existed := sh.m[key]
    sh.m[key] = &entry{val: clone(val), expireAt: expAt}
    sh.mu.Unlock()
    if !existed {
        s.mKeys.Add(1)
    }
    s.mSets.Add(1)
    if expAt != 0 {
        s.enqueueExpire(key, expAt)
    }
    return !existed
}

// Get returns a copy of the value for key.
func (s *Store) Get(key string) ([]byte, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    var exp int64
    var val []byte
    if ok {
        exp, val = e.expireAt, e.val
    }
    sh.mu.RUnlock()
    s.mGets.Add(1)
    if !ok || (exp != 0 && exp <= s.nowFn().UnixNano()) {
        if ok {
            s.lazyExpire(key)
        }
        s.mMisses.Add(1)
        return nil, false
    }
    s.mHits.Add(1)
    return clone(val), true
}

// GetDel returns the value and removes the key atomically.
func (s *Store) GetDel(key string) ([]byte, bool) {
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok {
        delete(sh.m, key)
    }
    sh.mu.Unlock()
    s.mGets.Add(1)
    if !ok || (e.expireAt != 0 && e.expireAt <= s.nowFn().UnixNano()) {
        if ok {
            s.mExpired.Add(1)
            s.mKeys.Add(^uint64(0))
        }
        s.mMisses.Add(1)
        return nil, false
    }
    s.mHits.Add(1)
    s.mDels.Add(1)
    s.mKeys.Add(^uint64(0))
    return clone(e.val), true
}

// Update applies fn to the current value when the key exists and has not
// expired. Returns whether the update happened.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
    sh := s.shardFor(key)
    now := s.nowFn().UnixNano()
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok {
        return false
    }
    if e.expireAt != 0 && e.expireAt <= now {
        delete(sh.m, key)
        s.mExpired.Add(1)
        s.mKeys.Add(^uint64(0))
        return false
    }
    e.val = clone(fn(e.val))
    s.mUpdates.Add(1)
    return true
}

// Upsert is Update that creates the key (no TTL) when missing.
func (s *Store) Upsert(key string, fn func(old []byte) []byte) {
    if s.Update(key, fn) {
        return
    }
    s.Set(key, fn(nil), 0)
}

// Exists reports whether key holds a live value.
func (s *Store) Exists(key string) bool {
    _, ok := s.Get(key)
    return ok
}

// Delete removes key; returns whether it was present.
func (s *Store) Delete(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    _, ok := sh.m[key]
    if ok {
        delete(sh.m, key)
    }
    sh.mu.Unlock()
    if ok {
        s.mDels.Add(1)
        s.mKeys.Add(^uint64(0))
    }
    return ok
}

// Expire sets the TTL for an existing key. ttl <= 0 deletes.
func (s *Store) Expire(key string, ttl time.Duration) bool {
    if ttl <= 0 {
        return s.Delete(key)
    }
    exp := s.nowFn().Add(ttl).UnixNano()
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok {
        e.expireAt = exp
    }
    sh.mu.Unlock()
    if !ok {
        return false
    }
    s.enqueueExpire(key, exp)
    return true
}

// TTL returns the remaining lifetime. For keys without expiry: (0, true).
func (s *Store) TTL(key string) (time.Duration, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    var exp int64
    if ok {
        exp = e.expireAt
    }
    sh.mu.RUnlock()
    if !ok {
        return 0, false
    }
    if exp == 0 {
        return 0, true
    }
    now := s.nowFn().UnixNano()
    if exp <= now {
        s.lazyExpire(key)
        return 0, false
    }
    return time.Duration(exp - now), true
}

// Keys returns all live keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
    now := s.nowFn().UnixNano()
    var out []string
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
                if e.expireAt == 0 || e.expireAt > now {
                    out = append(out, k)
                }
            }
        }
        sh.mu.RUnlock()
    }
    return out
}

func (s *Store) lazyExpire(key string) {
    sh := s.shardFor(key)
    now := s.nowFn().UnixNano()
    sh.mu.Lock()
    if e, ok := sh.m[key]; ok && e.expireAt != 0 && e.expireAt <= now {
        delete(sh.m, key)
        s.mExpired.Add(1)
        s.mKeys.Add(^uint64(0))
    }
    sh.mu.Unlock()
}

// Metrics is a snapshot of store counters.
type Metrics struct {
    Keys    uint64
    Sets    uint64
    Gets    uint64
    Hits    uint64
    Misses  uint64
    Dels    uint64
    Expired uint64
    Updates uint64
}

// Snapshot reads the counters without blocking store operations.
func (s *Store) Snapshot() Metrics {
    return Metrics{
        Keys:    s.mKeys.Load(),
        Sets:    s.mSets.Load(),
        Gets:    s.mGets.Load(),
        Hits:    s.mHits.Load(),
        Misses:  s.mMisses.Load(),
        Dels:    s.mDels.Load(),
        Expired: s.mExpired.Load(),
        Updates: s.mUpdates.Load(),
    }
}

// ---- expiry queue ----

type expItem struct {
    when int64
    key  string
}

type expQueue []expItem

func (q expQueue) Len() int            { return len(q) }
func (q expQueue) Less(i, j int) bool  { return q[i].when < q[j].when }
func (q expQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *expQueue) Push(x interface{}) { *q = append(*q, x.(expItem)) }
func (q *expQueue) Pop() interface{} {
    old := *q
    n := len(old)
    it := old[n-1]
    *q = old[:n-1]
    return it
}

func (s *Store) enqueueExpire(key string, when int64) {
    s.expMu.Lock()
    heap.Push(&s.expq, expItem{when: when, key: key})
    s.expCond.Broadcast()
    s.expMu.Unlock()
}

func (s *Store) expirer() {
    defer s.wg.Done()
    for {
        s.expMu.Lock()
        for s.expq.Len() == 0 {
            if s.isClosed() {
                s.expMu.Unlock()
                return
            }
            s.expCond.Wait()
            if s.isClosed() {
                s.expMu.Unlock()
                return
            }
        }
        it := s.expq[0]
        now := s.nowFn().UnixNano()
        if it.when > now {
            s.expMu.Unlock()
            timer := time.NewTimer(time.Duration(it.when - now))
            select {
            case <-timer.C:
            case <-s.closeCh:
                timer.Stop()
                return
            }
            continue
        }
        heap.Pop(&s.expq)
        s.expMu.Unlock()
        s.lazyExpire(it.key)
    }
}

func (s *Store) isClosed() bool {
    select {
    case <-s.closeCh:
        return true
    default:
        return false
    }
}
