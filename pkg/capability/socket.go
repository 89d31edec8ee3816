package capability

import "context"

// Socket is a byte-stream capability endpoint: message boundaries are not
// preserved, reads return whatever contiguous bytes are queued.
type Socket struct {
    in   *queue
    peer *queue
}

// NewSocketPair returns both endpoints of a fresh socket.
func NewSocketPair() (*Socket, *Socket) {
    qa, qb := newQueue(), newQueue()
    return &Socket{in: qa, peer: qb}, &Socket{in: qb, peer: qa}
}

func (s *Socket) Kind() Kind { return KindSocket }

// Write queues bytes on the peer endpoint.
func (s *Socket) Write(_ context.Context, b []byte) error { return s.peer.push(b) }

// Read blocks until bytes are available, then returns all contiguous queued
// bytes (coalescing queued chunks).
func (s *Socket) Read(ctx context.Context) ([]byte, error) {
    b, err := s.in.pop(ctx)
    if err != nil {
        return nil, err
    }
    return s.coalesce(b), nil
}

// TryRead returns queued bytes or ErrShouldWait.
func (s *Socket) TryRead() ([]byte, error) {
    b, err := s.in.tryPop()
    if err != nil {
        return nil, err
    }
    return s.coalesce(b), nil
}

// coalesce appends any further queued chunks onto head without blocking.
func (s *Socket) coalesce(head []byte) []byte {
    for {
        more, err := s.in.tryPop()
        if err != nil {
            return head
        }
        head = append(head, more...)
    }
}

// Close tears down this endpoint; the peer observes ErrPeerClosed once its
// queue drains.
func (s *Socket) Close() error {
    s.in.markClosed()
    s.peer.markPeerGone()
    return nil
}
