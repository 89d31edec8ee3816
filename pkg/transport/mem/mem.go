// Package mem is an in-process transport with named listeners. It backs unit
// tests and same-process proxy sessions; streams support half-close so
// end-of-stream propagates exactly like on a network transport.
package mem

import (
    "context"
    "errors"
    "io"
    "net"
    "sync"
    "time"

    "meshipc/pkg/transport"
)

// ErrClosed is returned for operations on a torn-down pipe or session.
var ErrClosed = errors.New("mem: closed")

// Transport registers listeners by name and connects dialers to them.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock(); defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan transport.Session, 8), closeCh: make(chan struct{})}
    t.listeners[name] = l
    go func() { <-ctx.Done(); _ = l.Close(); t.mu.Lock(); delete(t.listeners, name); t.mu.Unlock() }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
    t.mu.Lock(); l := t.listeners[name]; t.mu.Unlock()
    if l == nil { return nil, errors.New("mem: no such listener") }
    srvInfo := transport.PeerInfo{ID: peer.ID, Addr: name, Reachable: true}
    cli, srv := NewSessionPair(peer, srvInfo)
    select { case l.newCh <- srv: default: _ = srv.Close(); return nil, errors.New("mem: accept backlog full") }
    go func() { <-ctx.Done(); _ = cli.Close() }()
    return cli, nil
}

type listener struct {
    name    string
    newCh   chan transport.Session
    closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("mem listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    select { case <-l.closeCh: default: close(l.closeCh) }
    return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// NewSessionPair returns two connected sessions; streams opened on one side
// are accepted on the other. Used directly by tests that need a session
// without a listener.
func NewSessionPair(dialerSees, listenerSees transport.PeerInfo) (transport.Session, transport.Session) {
    ab := make(chan transport.ByteStream, 8)
    ba := make(chan transport.ByteStream, 8)
    done := make(chan struct{})
    a := &session{peer: dialerSees, open: ab, accept: ba, done: done, establishedAt: time.Now()}
    b := &session{peer: listenerSees, open: ba, accept: ab, done: done, establishedAt: a.establishedAt}
    return a, b
}

type session struct {
    mu            sync.Mutex
    peer          transport.PeerInfo
    open          chan transport.ByteStream // streams this side opens, peer accepts
    accept        chan transport.ByteStream
    done          chan struct{}
    establishedAt time.Time
    lastSeen      time.Time
}

func (s *session) Peer() transport.PeerInfo            { return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo)       { s.peer = pi }
func (s *session) TransportKind() transport.Kind       { return transport.KindMem }
func (s *session) LocalAddr() net.Addr                 { return memAddr("mem:local") }
func (s *session) RemoteAddr() net.Addr                { return memAddr("mem:remote") }

func (s *session) OpenStream(ctx context.Context, _ transport.StreamClass) (transport.ByteStream, error) {
    local, remote := NewStreamPair()
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-s.done:
        return nil, ErrClosed
    case s.open <- remote:
    }
    s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock()
    return local, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.ByteStream, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-s.done:
        return nil, ErrClosed
    case st := <-s.accept:
        s.mu.Lock(); s.lastSeen = time.Now(); s.mu.Unlock()
        return st, nil
    }
}

func (s *session) Quality() transport.Quality {
    s.mu.Lock(); defer s.mu.Unlock()
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen}
}

func (s *session) Close() error {
    select { case <-s.done: default: close(s.done) }
    return nil
}

// ---- Streams ----

// NewStreamPair returns both ends of one bidirectional in-process stream.
func NewStreamPair() (transport.ByteStream, transport.ByteStream) {
    p1 := newHalfPipe()
    p2 := newHalfPipe()
    return &stream{rd: p1, wr: p2}, &stream{rd: p2, wr: p1}
}

type stream struct {
    rd *halfPipe
    wr *halfPipe
}

func (s *stream) Write(b []byte, endOfStream bool) error { return s.wr.write(b, endOfStream) }
func (s *stream) ReadExact(b []byte) (bool, error)       { return s.rd.readExact(b) }

// Close tears down both directions; a peer blocked on either half wakes up
// with ErrClosed.
func (s *stream) Close() error {
    s.rd.breakPipe()
    s.wr.breakPipe()
    return nil
}

// halfPipe is one direction of a stream: a byte buffer with end-of-stream
// and teardown states.
type halfPipe struct {
    mu     sync.Mutex
    cond   *sync.Cond
    buf    []byte
    eof    bool // write side closed cleanly
    broken bool // torn down
}

func newHalfPipe() *halfPipe {
    p := &halfPipe{}
    p.cond = sync.NewCond(&p.mu)
    return p
}

func (p *halfPipe) write(b []byte, eos bool) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.broken || p.eof {
        return ErrClosed
    }
    p.buf = append(p.buf, b...)
    if eos {
        p.eof = true
    }
    p.cond.Broadcast()
    return nil
}

func (p *halfPipe) readExact(b []byte) (bool, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    // zero-length reads never report end-of-stream, matching the
    // ByteStream contract for socket-backed transports
    if len(b) == 0 {
        return false, nil
    }
    n := 0
    for n < len(b) {
        for len(p.buf) == 0 && !p.eof && !p.broken {
            p.cond.Wait()
        }
        // delivered bytes stay readable after teardown, like a network
        // stack's receive buffer
        if len(p.buf) == 0 {
            if p.broken && !p.eof {
                return false, ErrClosed
            }
            if n == 0 {
                return true, io.EOF
            }
            return true, io.ErrUnexpectedEOF
        }
        take := copy(b[n:], p.buf)
        p.buf = p.buf[take:]
        n += take
    }
    return p.eof && len(p.buf) == 0, nil
}

func (p *halfPipe) breakPipe() {
    p.mu.Lock()
    p.broken = true
    p.cond.Broadcast()
    p.mu.Unlock()
}
