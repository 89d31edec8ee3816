package proxy

import (
    "context"
    "errors"
    "testing"
    "time"

    "meshipc/pkg/capability"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/transport/mem"
)

func TestSendReceiveHandshake(t *testing.T) {
    // initiator side: channel with two queued outbound messages
    initEnd, initApp := capability.NewChannelPair()
    ctx := context.Background()
    _ = initApp.Write(ctx, []byte("first"))
    _ = initApp.Write(ctx, []byte("second"))
    ip, err := NewProxyable(initEnd)
    if err != nil { t.Fatalf("proxyable: %v", err) }
    sender := NewHandle(ip, nil, frame.NewStats())

    // acceptor side: fresh channel to replay into
    accEnd, accApp := capability.NewChannelPair()
    ap, err := NewProxyable(accEnd)
    if err != nil { t.Fatalf("proxyable: %v", err) }
    receiver := NewHandle(ap, nil, frame.NewStats())

    a, b := mem.NewStreamPair()

    type recvResult struct {
        raw capability.Handle
        bt  frame.BeginTransfer
        err error
    }
    recvCh := make(chan recvResult, 1)
    go func() {
        raw, bt, err := ReceiveHandle(ctx, receiver, frame.NewWriter(b, nil), frame.NewReader(b))
        recvCh <- recvResult{raw, bt, err}
    }()

    if err := SendHandle(sender, frame.NewWriter(a, sender.Stats()), frame.NewReader(a), "pk:ed25519:target", []byte{0x01}); err != nil {
        t.Fatalf("send handle: %v", err)
    }

    var res recvResult
    select {
    case res = <-recvCh:
    case <-time.After(2 * time.Second):
        t.Fatalf("receive did not complete")
    }
    if res.err != nil { t.Fatalf("receive handle: %v", res.err) }
    if res.bt.PeerNode != "pk:ed25519:target" || len(res.bt.Extra) != 1 {
        t.Fatalf("begin_transfer body = %+v", res.bt)
    }

    for _, want := range []string{"first", "second"} {
        msg, err := accApp.TryRead()
        if err != nil { t.Fatalf("read replayed: %v", err) }
        if string(msg) != want { t.Fatalf("replayed %q, want %q", msg, want) }
    }
    if res.raw == nil || res.raw.Kind() != capability.KindChannel {
        t.Fatalf("reconstructed capability = %v", res.raw)
    }

    // initiator's endpoint was handed off; its app side observes closure
    if _, err := initApp.TryRead(); !errors.Is(err, capability.ErrPeerClosed) {
        t.Fatalf("initiator app side after transfer = %v", err)
    }
}

func TestReceiveHandleRejectsMissingHello(t *testing.T) {
    accEnd, _ := capability.NewChannelPair()
    ap, _ := NewProxyable(accEnd)
    receiver := NewHandle(ap, nil, nil)

    a, b := mem.NewStreamPair()
    w := frame.NewWriter(a, nil)
    // BeginTransfer without a preceding Hello
    bt, err := frame.NewBeginTransfer("x", nil)
    if err != nil { t.Fatalf("new begin: %v", err) }
    if err := w.SendFrame(bt); err != nil { t.Fatalf("send: %v", err) }

    _, _, rerr := ReceiveHandle(context.Background(), receiver, frame.NewWriter(b, nil), frame.NewReader(b))
    var ue *UnexpectedFrameError
    if !errors.As(rerr, &ue) || ue.Type != frame.TypeBeginTransfer {
        t.Fatalf("err = %v, want unexpected begin_transfer", rerr)
    }

    // the violation is answered with a best-effort Shutdown on the way out
    typ, payload, _, err := frame.NewReader(a).Next()
    if err != nil { t.Fatalf("read shutdown: %v", err) }
    if typ != frame.TypeShutdown {
        t.Fatalf("answer frame = %s, want shutdown", typ)
    }
    var sd frame.Shutdown
    if err := frame.DecodeControl(payload, &sd); err != nil || sd.Reason == "" {
        t.Fatalf("shutdown body = %+v, %v", sd, err)
    }
}

func TestSendHandleAbortedByShutdown(t *testing.T) {
    initEnd, _ := capability.NewChannelPair()
    ip, _ := NewProxyable(initEnd)
    sender := NewHandle(ip, nil, nil)

    a, b := mem.NewStreamPair()
    // peer answers the handshake with Shutdown instead of AckTransfer
    go func() {
        r := frame.NewReader(b)
        _, _, _, _ = r.Next() // hello
        _, _, _, _ = r.Next() // begin_transfer
        sd, _ := frame.NewShutdown("not accepting transfers")
        _ = frame.NewWriter(b, nil).Send(sd.Type, sd.Payload, true)
    }()

    err := SendHandle(sender, frame.NewWriter(a, nil), frame.NewReader(a), "peer", nil)
    var se *ShutdownError
    if !errors.As(err, &se) || se.Reason != "not accepting transfers" {
        t.Fatalf("err = %v, want shutdown reason", err)
    }
}

func TestSessionRegistryReleasesFailedTransfer(t *testing.T) {
    reg := NewSessionRegistry()

    end, _ := capability.NewChannelPair()
    p, _ := NewProxyable(end)
    h := NewHandle(p, nil, nil)
    id := reg.Add(&Session{Peer: "p1", Handle: h, Stats: h.Stats()})
    if reg.Len() != 1 { t.Fatalf("len = %d", reg.Len()) }

    // a failing transfer must still release its slot
    a, b := mem.NewStreamPair()
    w := frame.NewWriter(a, nil)
    sd, _ := frame.NewShutdown("abort")
    _ = w.Send(sd.Type, sd.Payload, true)
    if _, err := h.DrainStreamToHandle(context.Background(), frame.NewReader(b)); err == nil {
        t.Fatalf("transfer unexpectedly succeeded")
    }
    if !reg.Remove(id) { t.Fatalf("remove failed") }
    if reg.Len() != 0 { t.Fatalf("len after remove = %d", reg.Len()) }

    // the released id is stale forever after
    if _, ok := reg.Get(id); ok {
        t.Fatalf("stale id resolved")
    }
    id2 := reg.Add(&Session{Peer: "p2"})
    if id2.Index == id.Index && id2.Generation == id.Generation {
        t.Fatalf("reused slot kept old generation")
    }
    if _, ok := reg.Get(id); ok {
        t.Fatalf("stale id aliases new session")
    }
}
