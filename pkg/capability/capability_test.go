package capability

import (
    "context"
    "errors"
    "testing"
    "time"
)

func TestChannelTryReadEmpty(t *testing.T) {
    a, _ := NewChannelPair()
    if _, err := a.TryRead(); !errors.Is(err, ErrShouldWait) {
        t.Fatalf("expected ErrShouldWait, got %v", err)
    }
}

func TestChannelOrder(t *testing.T) {
    ctx := context.Background()
    a, b := NewChannelPair()
    for _, m := range []string{"one", "two", "three"} {
        if err := a.Write(ctx, []byte(m)); err != nil { t.Fatalf("write: %v", err) }
    }
    for _, want := range []string{"one", "two", "three"} {
        got, err := b.TryRead()
        if err != nil { t.Fatalf("read: %v", err) }
        if string(got) != want { t.Fatalf("got %q want %q", got, want) }
    }
}

func TestChannelBlockingRead(t *testing.T) {
    ctx := context.Background()
    a, b := NewChannelPair()
    go func() {
        time.Sleep(10 * time.Millisecond)
        _ = a.Write(ctx, []byte("late"))
    }()
    got, err := b.Read(ctx)
    if err != nil { t.Fatalf("read: %v", err) }
    if string(got) != "late" { t.Fatalf("got %q", got) }
}

func TestChannelReadCancel(t *testing.T) {
    _, b := NewChannelPair()
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    if _, err := b.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("expected deadline, got %v", err)
    }
}

func TestChannelPeerClose(t *testing.T) {
    ctx := context.Background()
    a, b := NewChannelPair()
    _ = a.Write(ctx, []byte("last"))
    _ = a.Close()
    // Queued message still delivered, then peer-closed.
    if got, err := b.Read(ctx); err != nil || string(got) != "last" {
        t.Fatalf("read: %v %q", err, got)
    }
    if _, err := b.Read(ctx); !errors.Is(err, ErrPeerClosed) {
        t.Fatalf("expected ErrPeerClosed, got %v", err)
    }
    if err := b.Write(ctx, []byte("x")); !errors.Is(err, ErrPeerClosed) {
        t.Fatalf("write to closed peer: %v", err)
    }
}

func TestSocketCoalesce(t *testing.T) {
    ctx := context.Background()
    a, b := NewSocketPair()
    _ = a.Write(ctx, []byte("ab"))
    _ = a.Write(ctx, []byte("cd"))
    got, err := b.TryRead()
    if err != nil { t.Fatalf("read: %v", err) }
    if string(got) != "abcd" { t.Fatalf("got %q", got) }
    if _, err := b.TryRead(); !errors.Is(err, ErrShouldWait) {
        t.Fatalf("expected ErrShouldWait, got %v", err)
    }
}
