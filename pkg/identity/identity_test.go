package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "errors"
    "strings"
    "testing"

    "meshipc/pkg/config"
)

func TestLoadFromInlineKey(t *testing.T) {
    _, pk, err := ed25519.GenerateKey(rand.Reader)
    if err != nil { t.Fatalf("gen: %v", err) }
    c := config.IdentityConfig{
        Alg:        "ed25519",
        PrivateKey: base64.RawURLEncoding.EncodeToString(pk),
    }
    got, pid, err := LoadOrGenEd25519(c)
    if err != nil { t.Fatalf("load: %v", err) }
    if !got.Equal(pk) { t.Fatalf("loaded key differs") }
    if !strings.HasPrefix(string(pid), "pk:ed25519:") {
        t.Fatalf("peer id = %q", pid)
    }
}

func TestGenerateWhenUnset(t *testing.T) {
    pk, pid, err := LoadOrGenEd25519(config.IdentityConfig{Alg: "ed25519"})
    if err != nil { t.Fatalf("gen: %v", err) }
    if len(pk) != ed25519.PrivateKeySize || pid == "" {
        t.Fatalf("generated identity = %d bytes, %q", len(pk), pid)
    }
}

func TestHelloSignVerify(t *testing.T) {
    _, pk, _ := ed25519.GenerateKey(rand.Reader)
    h, err := NewHello(pk, "node-a")
    if err != nil { t.Fatalf("new hello: %v", err) }
    if err := h.Verify(); err != nil { t.Fatalf("verify: %v", err) }

    h.NodeName = "impostor"
    if err := h.Verify(); !errors.Is(err, ErrBadSignature) {
        t.Fatalf("tampered hello verified: %v", err)
    }
}
