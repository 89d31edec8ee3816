package proxy

import (
    "context"
    "errors"
    "fmt"

    "go.uber.org/zap"

    "meshipc/pkg/capability"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/router"
)

// ShutdownError aborts a transfer, carrying the reason the peer sent.
type ShutdownError struct{ Reason string }

func (e *ShutdownError) Error() string {
    return fmt.Sprintf("proxy: peer shut down transfer: %s", e.Reason)
}

// UnexpectedFrameError reports a handshake frame arriving on an
// already-established drain stream.
type UnexpectedFrameError struct{ Type frame.Type }

func (e *UnexpectedFrameError) Error() string {
    return fmt.Sprintf("proxy: unexpected %s frame during drain", e.Type)
}

// ErrConsumed is returned for operations on a handle whose capability has
// already been handed off.
var ErrConsumed = errors.New("proxy: handle already consumed")

// ProxyableHandle owns exactly one local capability wrapped as a Proxyable,
// a weak reference to the mesh router (lookup only, never ownership) and the
// shared per-session frame statistics.
type ProxyableHandle struct {
    p        Proxyable
    router   *RouterHolder
    stats    *frame.Stats
    consumed bool
}

// NewHandle wraps p for proxying. routerRef may be nil when the handle never
// addresses messages itself; stats must be the session's shared counter.
func NewHandle(p Proxyable, routerRef *router.Ref, stats *frame.Stats) *ProxyableHandle {
    if stats == nil {
        stats = frame.NewStats()
    }
    return &ProxyableHandle{p: p, router: NewRouterHolder(routerRef), stats: stats}
}

// Stats returns the shared per-session counters.
func (h *ProxyableHandle) Stats() *frame.Stats { return h.stats }

// Router returns the handle's lazily-upgrading router holder.
func (h *ProxyableHandle) Router() *RouterHolder { return h.router }

// Write performs one local write against the wrapped capability.
func (h *ProxyableHandle) Write(ctx context.Context, msg []byte) error {
    if h.consumed {
        return ErrConsumed
    }
    return h.p.WriteMessage(ctx, msg)
}

// Read performs one local read, suspending until a message is ready.
func (h *ProxyableHandle) Read(ctx context.Context) ([]byte, error) {
    if h.consumed {
        return nil, ErrConsumed
    }
    return h.p.ReadMessage(ctx)
}

// Close tears the handle down without a transfer, dropping the capability.
func (h *ProxyableHandle) Close() error {
    if h.consumed {
        return nil
    }
    h.consumed = true
    return h.p.Close()
}

// DrainToStream forwards every currently queued outbound message as a Data
// frame on w, in production order. It stops with a nil error the moment a
// local read would have to suspend, so the caller can interleave draining
// with other work on the same handle. Returns the number of frames sent.
func (h *ProxyableHandle) DrainToStream(w *frame.Writer) (int, error) {
    if h.consumed {
        return 0, ErrConsumed
    }
    sent := 0
    for {
        msg, err := h.p.TryReadMessage()
        if errors.Is(err, capability.ErrShouldWait) {
            return sent, nil
        }
        if err != nil {
            return sent, err
        }
        if err := w.Send(frame.TypeData, msg, false); err != nil {
            return sent, err
        }
        sent++
    }
}

// DrainStreamToHandle consumes the handle and runs the remote-to-local half
// of the transfer handshake. Frames are read from r and applied in order:
//
//   Data          write the payload to the local capability, keep draining
//   EndTransfer   terminal success, return the raw capability to the caller
//   Shutdown      terminal failure carrying the peer's reason
//   Hello, BeginTransfer, AckTransfer
//                 protocol violation on an established drain stream
//
// No timeout applies at this layer; closing r unblocks an in-progress read.
// On failure the wrapped capability is closed, never leaked.
func (h *ProxyableHandle) DrainStreamToHandle(ctx context.Context, r *frame.Reader) (capability.Handle, error) {
    if h.consumed {
        return nil, ErrConsumed
    }
    h.consumed = true
    raw, err := h.drainLoop(ctx, r)
    if err != nil {
        _ = h.p.Close()
        return nil, err
    }
    return raw, nil
}

func (h *ProxyableHandle) drainLoop(ctx context.Context, r *frame.Reader) (capability.Handle, error) {
    for {
        typ, payload, _, err := r.Next()
        if err != nil {
            return nil, fmt.Errorf("proxy: read frame: %w", err)
        }
        switch typ {
        case frame.TypeData:
            if err := h.p.WriteMessage(ctx, payload); err != nil {
                return nil, fmt.Errorf("proxy: replay data frame: %w", err)
            }
        case frame.TypeEndTransfer:
            zap.L().Debug("transfer complete", zap.Uint64("msgs", h.stats.MessagesSent()))
            return h.p.Handle(), nil
        case frame.TypeShutdown:
            var sd frame.Shutdown
            if derr := frame.DecodeControl(payload, &sd); derr != nil {
                sd.Reason = "unreadable shutdown body"
            }
            return nil, &ShutdownError{Reason: sd.Reason}
        default:
            // Hello, BeginTransfer, AckTransfer: handshake frames never
            // appear once the drain stream is established.
            return nil, &UnexpectedFrameError{Type: typ}
        }
    }
}
