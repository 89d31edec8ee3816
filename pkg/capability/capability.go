// Package capability models the local IPC objects the proxy layer forwards:
// a datagram-oriented Channel and a byte-stream Socket. Both come in
// in-process pairs; writing to one endpoint queues on its peer. They stand in
// for kernel handles: they can be closed, handed over, and read without
// blocking via TryRead.
package capability

import (
    "context"
    "errors"
    "sync"
)

// Kind discriminates capability object kinds at proxy construction time.
type Kind int

const (
    KindChannel Kind = iota
    KindSocket
)

func (k Kind) String() string {
    switch k {
    case KindChannel:
        return "channel"
    case KindSocket:
        return "socket"
    default:
        return "unknown"
    }
}

// ErrShouldWait is returned by TryRead when no data is currently queued.
var ErrShouldWait = errors.New("capability: should wait")

// ErrPeerClosed is returned once the peer endpoint is gone and the queue is
// drained.
var ErrPeerClosed = errors.New("capability: peer closed")

// ErrClosed is returned for operations on a closed endpoint.
var ErrClosed = errors.New("capability: closed")

// Handle is one endpoint of a capability object.
type Handle interface {
    Kind() Kind
    Close() error
}

// queue is the shared inbound buffer of one endpoint: a list of datagrams
// (Channel) or byte chunks that readers may coalesce (Socket).
type queue struct {
    mu       sync.Mutex
    items    [][]byte
    closed   bool // receiving endpoint closed
    peerGone bool // writing endpoint closed
    waitCh   chan struct{}
}

func newQueue() *queue { return &queue{waitCh: make(chan struct{})} }

// signal wakes all blocked readers.
func (q *queue) signal() {
    close(q.waitCh)
    q.waitCh = make(chan struct{})
}

func (q *queue) push(b []byte) error {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.closed {
        return ErrPeerClosed
    }
    cp := make([]byte, len(b))
    copy(cp, b)
    q.items = append(q.items, cp)
    q.signal()
    return nil
}

func (q *queue) tryPop() ([]byte, error) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.closed {
        return nil, ErrClosed
    }
    if len(q.items) == 0 {
        if q.peerGone {
            return nil, ErrPeerClosed
        }
        return nil, ErrShouldWait
    }
    b := q.items[0]
    q.items = q.items[1:]
    return b, nil
}

// pop blocks until an item is queued, the peer goes away, or ctx is done.
func (q *queue) pop(ctx context.Context) ([]byte, error) {
    for {
        q.mu.Lock()
        ch := q.waitCh
        q.mu.Unlock()
        b, err := q.tryPop()
        if err == nil || !errors.Is(err, ErrShouldWait) {
            return b, err
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-ch:
        }
    }
}

func (q *queue) markPeerGone() {
    q.mu.Lock()
    q.peerGone = true
    q.signal()
    q.mu.Unlock()
}

func (q *queue) markClosed() {
    q.mu.Lock()
    q.closed = true
    q.items = nil
    q.signal()
    q.mu.Unlock()
}
