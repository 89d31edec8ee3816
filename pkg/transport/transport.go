package transport

import (
    "context"
    "net"
    "time"
)

// Kind identifies transport/link type for policy decisions.
type Kind int

const (
    KindUnknown Kind = iota
    KindQUICDirect
    KindTCPDirect
    KindP2P
    KindWinPipe
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindQUICDirect:
        return "quic:direct"
    case KindTCPDirect:
        return "tcp:direct"
    case KindP2P:
        return "p2p"
    case KindWinPipe:
        return "winpipe"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// StreamClass labels multiplexed streams within a session.
type StreamClass int

const (
    StreamControl StreamClass = iota
    StreamProxy
)

// PeerID is an opaque stable peer identity (e.g., node id or public key hash).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
    ID        PeerID
    Addr      string // transport-dependent address string
    Reachable bool   // best-effort reachability
}

// Quality captures link quality metrics used by the manager to rank sessions.
type Quality struct {
    RTT           time.Duration
    LossRatio     float32
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Session represents a canonical connection to a peer with multiplexed byte
// streams. Ordering holds within a stream, never across streams.
type Session interface {
    Peer() PeerInfo
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // OpenStream opens a fresh stream of the given class. Transports without
    // native multiplexing may hand out a single shared stream.
    OpenStream(ctx context.Context, cls StreamClass) (ByteStream, error)

    // AcceptStream waits for the next inbound stream.
    AcceptStream(ctx context.Context) (ByteStream, error)

    // Quality snapshot for ranking/monitoring.
    Quality() Quality

    // Close closes the entire session and all of its streams.
    Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound sessions on address (transport-specific format).
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound session to a peer/address.
    Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}
