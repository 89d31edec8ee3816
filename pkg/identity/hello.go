package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "errors"
    "strconv"
    "strings"
    "time"
)

// Hello is the body of the hello frame exchanged when a session comes up.
// The signature covers the canonical transcript, not the CBOR bytes.
type Hello struct {
    Alg       string `cbor:"alg"`
    NodeName  string `cbor:"node_name"`
    PublicKey []byte `cbor:"public_key"`
    Nonce     []byte `cbor:"nonce"`
    TsUnixMS  int64  `cbor:"ts_unix_ms"`
    Signature []byte `cbor:"signature"`
}

// ErrBadSignature reports a hello whose signature fails verification.
var ErrBadSignature = errors.New("identity: hello signature invalid")

// HelloTranscript builds the canonical transcript used for signing/verifying
// hello bodies. Format:
//   meshipc:hello|v=1|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|name=<nodeName>
func HelloTranscript(alg string, pub, nonce []byte, tsUnixMS int64, nodeName string) []byte {
    b64 := base64.RawURLEncoding
    var sb strings.Builder
    sb.Grow(64 + len(nodeName))
    sb.WriteString("meshipc:hello|v=1|alg=")
    sb.WriteString(strings.ToLower(strings.TrimSpace(alg)))
    sb.WriteString("|ts=")
    sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
    sb.WriteString("|pub=")
    sb.WriteString(b64.EncodeToString(pub))
    sb.WriteString("|nonce=")
    sb.WriteString(b64.EncodeToString(nonce))
    sb.WriteString("|name=")
    sb.WriteString(nodeName)
    return []byte(sb.String())
}

// NewHello builds a signed hello body for this node.
func NewHello(pk ed25519.PrivateKey, nodeName string) (Hello, error) {
    nonce := make([]byte, 16)
    if _, err := rand.Read(nonce); err != nil {
        return Hello{}, err
    }
    pub := pk.Public().(ed25519.PublicKey)
    ts := time.Now().UnixMilli()
    tr := HelloTranscript("ed25519", pub, nonce, ts, nodeName)
    return Hello{
        Alg:       "ed25519",
        NodeName:  nodeName,
        PublicKey: pub,
        Nonce:     nonce,
        TsUnixMS:  ts,
        Signature: ed25519.Sign(pk, tr),
    }, nil
}

// Verify checks the hello's signature over its transcript.
func (h Hello) Verify() error {
    if strings.ToLower(h.Alg) != "ed25519" || len(h.PublicKey) != ed25519.PublicKeySize {
        return ErrBadSignature
    }
    tr := HelloTranscript(h.Alg, h.PublicKey, h.Nonce, h.TsUnixMS, h.NodeName)
    if !ed25519.Verify(ed25519.PublicKey(h.PublicKey), tr, h.Signature) {
        return ErrBadSignature
    }
    return nil
}
