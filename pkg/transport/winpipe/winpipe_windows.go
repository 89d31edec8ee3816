//go:build windows

// Package winpipe provides Windows named-pipe sessions via go-winio. Pipes
// are single-stream like TCP; end-of-stream maps to CloseWrite when the pipe
// supports it.
package winpipe

import (
    "context"
    "errors"
    "net"
    "sync"
    "time"

    "github.com/Microsoft/go-winio"

    "meshipc/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(ctx context.Context, pipeName string) (transport.Listener, error) {
    l, err := winio.ListenPipe(pipeName, nil)
    if err != nil {
        return nil, err
    }
    wl := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go wl.acceptLoop()
    go func() { <-ctx.Done(); _ = wl.Close() }()
    return wl, nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string, peer transport.PeerInfo) (transport.Session, error) {
    conn, err := winio.DialPipeContext(ctx, pipeName)
    if err != nil {
        return nil, err
    }
    s := newSession(conn, peer)
    go func() { <-ctx.Done(); _ = s.Close() }()
    return s, nil
}

type listener struct {
    l       net.Listener
    newCh   chan *session
    closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("winpipe listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    select {
    case <-l.closeCh:
    default:
        close(l.closeCh)
    }
    return l.l.Close()
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil {
            return
        }
        s := newSession(c, transport.PeerInfo{
            ID:   transport.TempPeerID(transport.KindWinPipe, c.RemoteAddr()),
            Addr: c.RemoteAddr().String(),
        })
        select {
        case l.newCh <- s:
        default:
            _ = s.Close()
        }
    }
}

type session struct {
    mu            sync.Mutex
    peer          transport.PeerInfo
    c             net.Conn
    establishedAt time.Time
    lastSeen      time.Time
    wEOS          bool
}

func newSession(c net.Conn, peer transport.PeerInfo) *session {
    return &session{peer: peer, c: c, establishedAt: time.Now()}
}

func (s *session) Peer() transport.PeerInfo      { return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.peer = pi }
func (s *session) TransportKind() transport.Kind { return transport.KindWinPipe }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(_ context.Context, _ transport.StreamClass) (transport.ByteStream, error) {
    return s, nil
}
func (s *session) AcceptStream(_ context.Context) (transport.ByteStream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
    s.mu.Lock()
    defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

func (s *session) Close() error { return s.c.Close() }

func (s *session) Write(b []byte, endOfStream bool) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.wEOS {
        return errors.New("winpipe: write after end of stream")
    }
    for len(b) > 0 {
        n, err := s.c.Write(b)
        if err != nil {
            return err
        }
        b = b[n:]
    }
    s.lastSeen = time.Now()
    if endOfStream {
        s.wEOS = true
        if cw, ok := s.c.(interface{ CloseWrite() error }); ok {
            return cw.CloseWrite()
        }
    }
    return nil
}

func (s *session) ReadExact(b []byte) (bool, error) {
    eos, err := transport.ReadFullEOS(s.c, b)
    if err == nil {
        s.mu.Lock()
        s.lastSeen = time.Now()
        s.mu.Unlock()
    }
    return eos, err
}
