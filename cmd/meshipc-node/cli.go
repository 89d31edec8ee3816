package main

import (
    "flag"
    "fmt"
    "os"
    "strings"

    "meshipc/pkg/config"
)

type cliOptions struct {
    configPath string
    nodeID     string
    logLevel   string
    listen     string // kind:addr, overrides the configured transports
    dial       string // comma-separated kind:addr targets
}

func parseFlags() cliOptions {
    var o cliOptions
    flag.StringVar(&o.configPath, "config", "", "path to meshipc.yaml (default: search ./, ./configs, ~/.meshipc)")
    flag.StringVar(&o.nodeID, "name", "", "node name announced in the hello exchange")
    flag.StringVar(&o.logLevel, "log-level", "", "override log level: debug|info|warn|error")
    flag.StringVar(&o.listen, "listen", "", "listen endpoint as kind:addr (e.g. quic::4433, tcp:127.0.0.1:9000)")
    flag.StringVar(&o.dial, "dial", "", "comma-separated dial targets as kind:addr")
    flag.Parse()
    return o
}

// applyFlags lets the command line win over file and environment settings.
func applyFlags(cfg *config.Config, o cliOptions) {
    if o.nodeID != "" {
        cfg.NodeID = o.nodeID
    }
    if o.logLevel != "" {
        cfg.Log.Level = o.logLevel
    }
    if o.listen != "" {
        kind, addr, ok := splitEndpoint(o.listen)
        if !ok {
            fatalf("bad -listen %q, want kind:addr", o.listen)
        }
        cfg.Transports = []config.TransportConfig{{Kind: kind, Listen: []string{addr}}}
    }
    if o.dial != "" {
        for _, ep := range strings.Split(o.dial, ",") {
            kind, addr, ok := splitEndpoint(strings.TrimSpace(ep))
            if !ok {
                fatalf("bad -dial entry %q, want kind:addr", ep)
            }
            cfg.Transports = appendDial(cfg.Transports, kind, addr)
        }
    }
}

// appendDial attaches a dial target to an existing transport of the same
// kind, or adds a dial-only transport entry.
func appendDial(tcs []config.TransportConfig, kind, addr string) []config.TransportConfig {
    for i := range tcs {
        if tcs[i].Kind == kind {
            tcs[i].Dial = append(tcs[i].Dial, config.PeerDialConfig{Address: addr})
            return tcs
        }
    }
    return append(tcs, config.TransportConfig{Kind: kind, Dial: []config.PeerDialConfig{{Address: addr}}})
}

func splitEndpoint(s string) (kind, addr string, ok bool) {
    kind, addr, ok = strings.Cut(s, ":")
    if !ok || kind == "" || addr == "" {
        return "", "", false
    }
    return kind, addr, true
}

func fatalf(format string, a ...any) {
    _, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
    os.Exit(1)
}
