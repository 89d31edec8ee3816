package capability

import "context"

// Channel is a datagram-oriented capability endpoint: writes and reads move
// whole messages, boundaries preserved.
type Channel struct {
    in   *queue // messages for this endpoint
    peer *queue // messages for the other endpoint
}

// NewChannelPair returns both endpoints of a fresh channel.
func NewChannelPair() (*Channel, *Channel) {
    qa, qb := newQueue(), newQueue()
    return &Channel{in: qa, peer: qb}, &Channel{in: qb, peer: qa}
}

func (c *Channel) Kind() Kind { return KindChannel }

// Write queues one message on the peer endpoint.
func (c *Channel) Write(_ context.Context, msg []byte) error { return c.peer.push(msg) }

// Read blocks until a message is available, the peer closes, or ctx is done.
func (c *Channel) Read(ctx context.Context) ([]byte, error) { return c.in.pop(ctx) }

// TryRead returns the next queued message or ErrShouldWait.
func (c *Channel) TryRead() ([]byte, error) { return c.in.tryPop() }

// Close tears down this endpoint; the peer observes ErrPeerClosed once its
// queue drains.
func (c *Channel) Close() error {
    c.in.markClosed()
    c.peer.markPeerGone()
    return nil
}
