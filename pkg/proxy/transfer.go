package proxy

import (
    "context"
    "fmt"

    "go.uber.org/zap"

    "meshipc/pkg/capability"
    "meshipc/pkg/proxy/frame"
)

// SendHandle runs the initiating half of a handle transfer on an open framed
// stream: Hello, BeginTransfer(peerNode, extra), wait for AckTransfer, drain
// the currently queued outbound messages as Data frames, then EndTransfer
// with end-of-stream. On success the local capability has been handed off
// and is closed here; the handle is consumed either way.
func SendHandle(h *ProxyableHandle, w *frame.Writer, r *frame.Reader, peerNode string, extra []byte) error {
    if h.consumed {
        return ErrConsumed
    }
    if err := w.Send(frame.TypeHello, nil, false); err != nil {
        return fmt.Errorf("proxy: send hello: %w", err)
    }
    bt, err := frame.NewBeginTransfer(peerNode, extra)
    if err != nil {
        return err
    }
    if err := w.SendFrame(bt); err != nil {
        return fmt.Errorf("proxy: send begin_transfer: %w", err)
    }

    typ, payload, _, err := r.Next()
    if err != nil {
        return fmt.Errorf("proxy: await ack_transfer: %w", err)
    }
    switch typ {
    case frame.TypeAckTransfer:
    case frame.TypeShutdown:
        var sd frame.Shutdown
        if derr := frame.DecodeControl(payload, &sd); derr != nil {
            sd.Reason = "unreadable shutdown body"
        }
        return &ShutdownError{Reason: sd.Reason}
    default:
        return &UnexpectedFrameError{Type: typ}
    }

    n, err := h.DrainToStream(w)
    if err != nil {
        return fmt.Errorf("proxy: drain handle: %w", err)
    }
    if err := w.Send(frame.TypeEndTransfer, nil, true); err != nil {
        return fmt.Errorf("proxy: send end_transfer: %w", err)
    }
    zap.L().Debug("handle sent", zap.String("peer_node", peerNode), zap.Int("frames", n))
    h.consumed = true
    return h.p.Close()
}

// ReceiveHandle runs the accepting half: validate Hello then BeginTransfer,
// answer AckTransfer, then drain incoming Data frames into the local handle
// until EndTransfer. Returns the reconstructed raw capability together with
// the decoded BeginTransfer body. On a protocol violation a best-effort
// Shutdown frame is written back before the error is returned.
func ReceiveHandle(ctx context.Context, h *ProxyableHandle, w *frame.Writer, r *frame.Reader) (capability.Handle, frame.BeginTransfer, error) {
    typ, _, _, err := r.Next()
    if err != nil {
        return failTransfer(h, w, fmt.Errorf("proxy: await hello: %w", err))
    }
    if typ != frame.TypeHello {
        return failTransfer(h, w, &UnexpectedFrameError{Type: typ})
    }
    return ReceiveHandleAfterHello(ctx, h, w, r)
}

// ReceiveHandleAfterHello is ReceiveHandle for callers that already consumed
// and validated the opening Hello frame (the session layer classifies
// inbound streams by their first frame).
func ReceiveHandleAfterHello(ctx context.Context, h *ProxyableHandle, w *frame.Writer, r *frame.Reader) (capability.Handle, frame.BeginTransfer, error) {
    fail := func(err error) (capability.Handle, frame.BeginTransfer, error) {
        return failTransfer(h, w, err)
    }

    typ, payload, _, err := r.Next()
    if err != nil {
        return fail(fmt.Errorf("proxy: await begin_transfer: %w", err))
    }
    if typ != frame.TypeBeginTransfer {
        return fail(&UnexpectedFrameError{Type: typ})
    }
    bt, err := frame.Frame{Type: typ, Payload: payload}.BeginTransferBody()
    if err != nil {
        return fail(err)
    }

    if err := w.Send(frame.TypeAckTransfer, nil, false); err != nil {
        return fail(fmt.Errorf("proxy: send ack_transfer: %w", err))
    }

    raw, err := h.DrainStreamToHandle(ctx, r)
    if err != nil {
        return nil, frame.BeginTransfer{}, err
    }
    zap.L().Debug("handle received", zap.String("peer_node", bt.PeerNode))
    return raw, bt, nil
}

// failTransfer answers a protocol violation with a best-effort Shutdown and
// drops the local capability.
func failTransfer(h *ProxyableHandle, w *frame.Writer, err error) (capability.Handle, frame.BeginTransfer, error) {
    if sd, serr := frame.NewShutdown(err.Error()); serr == nil {
        _ = w.Send(sd.Type, sd.Payload, true)
    }
    _ = h.Close()
    return nil, frame.BeginTransfer{}, err
}
