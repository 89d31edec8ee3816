package main

import (
    "context"
    "os/signal"
    "syscall"

    "go.uber.org/zap"

    "meshipc/pkg/capability"
    "meshipc/pkg/config"
    "meshipc/pkg/mesh"
    "meshipc/pkg/observability"
    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/transport"
)

func main() {
    opts := parseFlags()

    cfg, err := config.Load(opts.configPath)
    if err != nil {
        fatalf("load config: %v", err)
    }
    applyFlags(cfg, opts)

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        fatalf("setup logger: %v", err)
    }
    defer func() { _ = logger.Sync() }()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    node, err := mesh.StartFromConfig(ctx, cfg, logSink)
    if err != nil {
        zap.L().Fatal("start node", zap.Error(err))
    }
    node.SetMessageSink(func(from transport.PeerID, payload []byte) {
        var body map[string]any
        f, err := node.DecodeMessage(payload, &body)
        if err != nil {
            zap.L().Warn("undecodable message", zap.String("from", string(from)), zap.Error(err))
            return
        }
        zap.L().Info("message received",
            zap.String("from", string(from)), zap.String("format", f.String()), zap.Any("body", body))
    })

    <-ctx.Done()
    zap.L().Info("shutting down")
    node.Close()
}

// logSink drains transferred-in capabilities and logs their contents; a real
// embedder replaces this with application dispatch.
func logSink(h capability.Handle, from transport.PeerID, bt frame.BeginTransfer) {
    defer func() { _ = h.Close() }()
    ch, ok := h.(*capability.Channel)
    if !ok {
        zap.L().Info("capability received",
            zap.String("from", string(from)), zap.String("peer_node", bt.PeerNode))
        return
    }
    n := 0
    for {
        msg, err := ch.TryRead()
        if err != nil {
            break
        }
        n++
        zap.L().Debug("replayed message", zap.Int("seq", n), zap.Int("len", len(msg)))
    }
    zap.L().Info("capability received",
        zap.String("from", string(from)),
        zap.String("peer_node", bt.PeerNode),
        zap.Int("replayed", n))
}
