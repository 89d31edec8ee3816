// Package quic provides QUIC-based sessions. Each proxy or control stream
// maps onto one bidirectional QUIC stream; end-of-stream is the write-side
// close of that stream.
package quic

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "errors"
    "io"
    "math/big"
    "net"
    "reflect"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "meshipc/pkg/transport"
)

type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

func New() *Transport {
    // Ephemeral self-signed certificate for the server side; identity is
    // verified at the application layer by the signed hello.
    cert, _ := selfSignedCert()
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{"meshipc"},
        MinVersion:   tls.VersionTLS13,
    }
    return &Transport{tlsConf: tlsConf, quicConf: &quicgo.Config{}}
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUICDirect }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil {
        return nil, err
    }
    // Capture Addr() now to avoid interface shape differences later
    addr := l.Addr()
    ql := &listener{l: any(l), laddr: addr, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go ql.acceptLoop(ctx)
    go func() { <-ctx.Done(); _ = ql.Close() }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true, // NOTE: identity is verified by the signed hello
        NextProtos:         []string{"meshipc"},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil {
        return nil, err
    }
    s := &session{peer: peer, c: any(c), establishedAt: time.Now()}
    go func() { <-ctx.Done(); _ = s.Close() }()
    return s, nil
}

// ---- Listener ----

type listener struct {
    l       any
    laddr   net.Addr
    newCh   chan *session
    closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.laddr }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("quic listener closed")
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
    if v, ok := l.l.(interface{ Close() error }); ok {
        return v.Close()
    }
    return nil
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        // Reflective call keeps us compatible across quic-go versions that
        // rename the connection type.
        mv := reflect.ValueOf(l.l).MethodByName("Accept")
        if !mv.IsValid() {
            return
        }
        outs := mv.Call([]reflect.Value{reflect.ValueOf(ctx)})
        if len(outs) != 2 {
            return
        }
        if !outs[1].IsNil() {
            return
        }
        anyConn := outs[0].Interface()
        var raddr net.Addr
        if mv := reflect.ValueOf(anyConn).MethodByName("RemoteAddr"); mv.IsValid() {
            rv := mv.Call(nil)
            if len(rv) == 1 && !rv[0].IsNil() {
                if a, ok := rv[0].Interface().(net.Addr); ok {
                    raddr = a
                }
            }
        }
        s := &session{
            peer:          transport.PeerInfo{ID: transport.TempPeerID(transport.KindQUICDirect, raddr), Addr: addrString(raddr), Reachable: true},
            c:             anyConn,
            establishedAt: time.Now(),
        }
        select {
        case l.newCh <- s:
        default:
            _ = s.Close()
        }
    }
}

func addrString(a net.Addr) string {
    if a == nil {
        return ""
    }
    return a.String()
}

// ---- Session/Streams ----

type session struct {
    mu            sync.Mutex
    peer          transport.PeerInfo
    c             any
    establishedAt time.Time
    lastSeen      time.Time
}

func (s *session) Peer() transport.PeerInfo      { return s.peer }
func (s *session) SetPeer(pi transport.PeerInfo) { s.peer = pi }
func (s *session) TransportKind() transport.Kind { return transport.KindQUICDirect }
func (s *session) LocalAddr() net.Addr {
    if v, ok := s.c.(interface{ LocalAddr() net.Addr }); ok {
        return v.LocalAddr()
    }
    return nil
}
func (s *session) RemoteAddr() net.Addr {
    if v, ok := s.c.(interface{ RemoteAddr() net.Addr }); ok {
        return v.RemoteAddr()
    }
    return nil
}

// OpenStream opens a fresh bidirectional QUIC stream per call.
func (s *session) OpenStream(ctx context.Context, _ transport.StreamClass) (transport.ByteStream, error) {
    mv := reflect.ValueOf(s.c).MethodByName("OpenStreamSync")
    if !mv.IsValid() {
        mv = reflect.ValueOf(s.c).MethodByName("OpenStream")
    }
    return s.callStreamMethod(ctx, mv, "open")
}

func (s *session) AcceptStream(ctx context.Context) (transport.ByteStream, error) {
    mv := reflect.ValueOf(s.c).MethodByName("AcceptStream")
    return s.callStreamMethod(ctx, mv, "accept")
}

func (s *session) callStreamMethod(ctx context.Context, mv reflect.Value, op string) (transport.ByteStream, error) {
    if !mv.IsValid() {
        return nil, errors.New("quic: stream " + op + " method not found")
    }
    var outs []reflect.Value
    if mv.Type().NumIn() == 1 {
        outs = mv.Call([]reflect.Value{reflect.ValueOf(ctx)})
    } else {
        outs = mv.Call(nil)
    }
    if len(outs) != 2 {
        return nil, errors.New("quic: unexpected stream " + op + " signature")
    }
    if !outs[1].IsNil() {
        return nil, outs[1].Interface().(error)
    }
    return wrapStream(outs[0].Interface(), s)
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
    // Try multiple Close signatures across quic-go versions
    if v, ok := s.c.(interface {
        CloseWithError(code uint64, msg string) error
    }); ok {
        return v.CloseWithError(0, "")
    }
    if v, ok := s.c.(interface{ Close(error) error }); ok {
        return v.Close(nil)
    }
    if v, ok := s.c.(interface{ Close() error }); ok {
        return v.Close()
    }
    return nil
}

// qstream adapts one QUIC stream to transport.ByteStream. End-of-stream on
// write maps to the QUIC write-side close; the peer observes it as a clean
// EOF after the final bytes.
type qstream struct {
    mu     sync.Mutex
    r      io.Reader
    w      io.Writer
    closef func() error
    parent *session
    wEOS   bool
}

func (st *qstream) Write(b []byte, endOfStream bool) error {
    st.mu.Lock()
    defer st.mu.Unlock()
    if st.wEOS {
        return errors.New("quic: write after end of stream")
    }
    for len(b) > 0 {
        n, err := st.w.Write(b)
        if err != nil {
            return err
        }
        b = b[n:]
    }
    st.parent.touch()
    if endOfStream {
        st.wEOS = true
        return st.closef()
    }
    return nil
}

func (st *qstream) ReadExact(b []byte) (bool, error) {
    eos, err := transport.ReadFullEOS(st.r, b)
    if err == nil {
        st.parent.touch()
    }
    return eos, err
}

func (st *qstream) Close() error {
    st.mu.Lock()
    defer st.mu.Unlock()
    // Cancel the read side when the stream exposes it, so a blocked
    // ReadExact unblocks.
    if v, ok := st.r.(interface{ CancelRead(code uint64) }); ok {
        v.CancelRead(0)
    }
    if st.wEOS {
        return nil
    }
    st.wEOS = true
    return st.closef()
}

// wrapStream normalizes a quic-go stream (struct or interface across
// versions) to a qstream via io.Reader/Writer.
func wrapStream(qs any, parent *session) (*qstream, error) {
    if rw, ok := qs.(interface {
        io.Reader
        io.Writer
        Close() error
    }); ok {
        return &qstream{r: rw, w: rw, closef: rw.Close, parent: parent}, nil
    }
    var r io.Reader
    var w io.Writer
    var closeFn func() error
    if rr, ok := qs.(io.Reader); ok {
        r = rr
    }
    if ww, ok := qs.(io.Writer); ok {
        w = ww
    }
    if cl, ok := qs.(interface{ Close() error }); ok {
        closeFn = cl.Close
    }
    if r == nil || w == nil || closeFn == nil {
        return nil, errors.New("quic: stream does not expose io.Reader/Writer")
    }
    return &qstream{r: r, w: w, closef: closeFn, parent: parent}, nil
}

// ---- Helpers ----

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil {
        return tls.Certificate{}, err
    }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil {
        return tls.Certificate{}, err
    }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
