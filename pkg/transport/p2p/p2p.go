// Package p2p provides sessions over a libp2p host. Each meshipc stream maps
// onto one libp2p stream under a dedicated protocol id; libp2p streams
// support write-side close natively, which carries the end-of-stream signal.
package p2p

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "time"

    libp2p "github.com/libp2p/go-libp2p"
    libp2phost "github.com/libp2p/go-libp2p/core/host"
    "github.com/libp2p/go-libp2p/core/network"
    libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
    ma "github.com/multiformats/go-multiaddr"

    "meshipc/pkg/transport"
)

// ProtocolID is the libp2p protocol under which meshipc streams travel.
const ProtocolID = "/meshipc/1.0.0"

type Transport struct {
    mu   sync.Mutex
    h    libp2phost.Host
    newCh chan *session

    sessions map[libp2ppeer.ID]*session
}

// New creates a transport backed by a fresh libp2p host listening on the
// given multiaddrs (empty means the libp2p defaults).
func New(listenAddrs ...string) (*Transport, error) {
    var opts []libp2p.Option
    if len(listenAddrs) > 0 {
        opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
    }
    h, err := libp2p.New(opts...)
    if err != nil {
        return nil, fmt.Errorf("p2p: new host: %w", err)
    }
    t := &Transport{
        h:        h,
        newCh:    make(chan *session, 8),
        sessions: make(map[libp2ppeer.ID]*session),
    }
    h.SetStreamHandler(ProtocolID, t.handleStream)
    return t, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindP2P }

// Host exposes the underlying libp2p host (e.g. to print its addresses).
func (t *Transport) Host() libp2phost.Host { return t.h }

// handleStream routes an inbound libp2p stream to the session for its remote
// peer, creating the session (and announcing it to the listener) on first
// contact.
func (t *Transport) handleStream(st network.Stream) {
    remote := st.Conn().RemotePeer()
    t.mu.Lock()
    s, ok := t.sessions[remote]
    if !ok {
        s = newSession(t, remote)
        t.sessions[remote] = s
        select {
        case t.newCh <- s:
        default:
        }
    }
    t.mu.Unlock()
    s.deliver(st)
}

func (t *Transport) dropSession(id libp2ppeer.ID) {
    t.mu.Lock()
    delete(t.sessions, id)
    t.mu.Unlock()
}

// Listen returns a listener yielding one session per remote peer that opens
// a stream to us. The libp2p host already listens on its configured addrs;
// address is ignored.
func (t *Transport) Listen(ctx context.Context, _ string) (transport.Listener, error) {
    l := &listener{t: t, closeCh: make(chan struct{})}
    go func() { <-ctx.Done(); _ = l.Close() }()
    return l, nil
}

// Dial connects to a peer multiaddr of the form .../p2p/<peer-id>.
func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    maddr, err := ma.NewMultiaddr(address)
    if err != nil {
        return nil, fmt.Errorf("p2p: parse multiaddr: %w", err)
    }
    info, err := libp2ppeer.AddrInfoFromP2pAddr(maddr)
    if err != nil {
        return nil, fmt.Errorf("p2p: addr info: %w", err)
    }
    if err := t.h.Connect(ctx, *info); err != nil {
        return nil, fmt.Errorf("p2p: connect: %w", err)
    }
    t.mu.Lock()
    s, ok := t.sessions[info.ID]
    if !ok {
        s = newSession(t, info.ID)
        if peer.ID != "" {
            s.peer = peer
        }
        t.sessions[info.ID] = s
    }
    t.mu.Unlock()
    return s, nil
}

// Close shuts the host down.
func (t *Transport) Close() error { return t.h.Close() }

type listener struct {
    t       *Transport
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("p2p listener closed")
    case s := <-l.t.newCh:
        return s, nil
    }
}

func (l *listener) Addr() net.Addr {
    addrs := l.t.h.Addrs()
    if len(addrs) == 0 {
        return nil
    }
    return maddrAddr{s: addrs[0].String() + "/p2p/" + l.t.h.ID().String()}
}

func (l *listener) Close() error {
    l.once.Do(func() { close(l.closeCh) })
    return nil
}

// maddrAddr adapts a multiaddr string to net.Addr.
type maddrAddr struct{ s string }

func (a maddrAddr) Network() string { return "libp2p" }
func (a maddrAddr) String() string  { return a.s }

type session struct {
    t      *Transport
    remote libp2ppeer.ID

    mu            sync.Mutex
    peer          transport.PeerInfo
    establishedAt time.Time
    lastSeen      time.Time

    inCh    chan network.Stream
    closeCh chan struct{}
    once    sync.Once
}

func newSession(t *Transport, remote libp2ppeer.ID) *session {
    return &session{
        t:             t,
        remote:        remote,
        peer:          transport.PeerInfo{ID: transport.PeerID("p2p:" + remote.String()), Reachable: true},
        establishedAt: time.Now(),
        inCh:          make(chan network.Stream, 8),
        closeCh:       make(chan struct{}),
    }
}

func (s *session) deliver(st network.Stream) {
    select {
    case s.inCh <- st:
    case <-s.closeCh:
        _ = st.Reset()
    }
}

func (s *session) Peer() transport.PeerInfo {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.peer
}

func (s *session) SetPeer(pi transport.PeerInfo) {
    s.mu.Lock()
    s.peer = pi
    s.mu.Unlock()
}

func (s *session) TransportKind() transport.Kind { return transport.KindP2P }

func (s *session) LocalAddr() net.Addr {
    addrs := s.t.h.Addrs()
    if len(addrs) == 0 {
        return nil
    }
    return maddrAddr{s: addrs[0].String()}
}

func (s *session) RemoteAddr() net.Addr {
    return maddrAddr{s: "/p2p/" + s.remote.String()}
}

func (s *session) OpenStream(ctx context.Context, _ transport.StreamClass) (transport.ByteStream, error) {
    st, err := s.t.h.NewStream(ctx, s.remote, ProtocolID)
    if err != nil {
        return nil, fmt.Errorf("p2p: new stream: %w", err)
    }
    s.touch()
    return &pstream{st: st, parent: s}, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.ByteStream, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-s.closeCh:
        return nil, errors.New("p2p session closed")
    case st := <-s.inCh:
        s.touch()
        return &pstream{st: st, parent: s}, nil
    }
}

func (s *session) Quality() transport.Quality {
    s.mu.Lock()
    defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

func (s *session) touch() {
    s.mu.Lock()
    s.lastSeen = time.Now()
    s.mu.Unlock()
}

func (s *session) Close() error {
    s.once.Do(func() { close(s.closeCh) })
    s.t.dropSession(s.remote)
    return s.t.h.Network().ClosePeer(s.remote)
}

// pstream adapts one libp2p stream to transport.ByteStream.
type pstream struct {
    mu     sync.Mutex
    st     network.Stream
    parent *session
    wEOS   bool
}

func (p *pstream) Write(b []byte, endOfStream bool) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.wEOS {
        return errors.New("p2p: write after end of stream")
    }
    for len(b) > 0 {
        n, err := p.st.Write(b)
        if err != nil {
            return err
        }
        b = b[n:]
    }
    p.parent.touch()
    if endOfStream {
        p.wEOS = true
        return p.st.CloseWrite()
    }
    return nil
}

func (p *pstream) ReadExact(b []byte) (bool, error) {
    eos, err := transport.ReadFullEOS(p.st, b)
    if err == nil {
        p.parent.touch()
    }
    return eos, err
}

func (p *pstream) Close() error { return p.st.Close() }
