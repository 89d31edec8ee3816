// meshipc-frame writes sample binary frames to a testdata directory for
// inspection and cross-implementation fixtures.
package main

import (
    "encoding/hex"
    "flag"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strings"

    "meshipc/pkg/proxy/frame"
)

func main() {
    outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
    flag.Parse()
    if err := os.MkdirAll(*outDir, 0o755); err != nil { log.Fatal(err) }

    // 1) Data frame with a small payload
    writeOut(*outDir, "frame_data.bin", mustFrame(frame.NewData([]byte("hello mesh"))))

    // 2) Empty Hello, as it appears at the start of a handle transfer
    writeOut(*outDir, "frame_hello_empty.bin", mustFrame(frame.NewHello(nil)))

    // 3) BeginTransfer with a target node and extra bytes
    bt, err := frame.NewBeginTransfer("pk:ed25519:example-target", []byte{0x01, 0x02})
    if err != nil { log.Fatal(err) }
    writeOut(*outDir, "frame_begin_transfer.bin", mustFrame(bt))

    // 4) Handshake acks
    writeOut(*outDir, "frame_ack_transfer.bin", mustFrame(frame.NewAckTransfer()))
    writeOut(*outDir, "frame_end_transfer.bin", mustFrame(frame.NewEndTransfer()))

    // 5) Shutdown with a reason
    sd, err := frame.NewShutdown("example: operator abort")
    if err != nil { log.Fatal(err) }
    writeOut(*outDir, "frame_shutdown.bin", mustFrame(sd))

    fmt.Println("Generated frames in", *outDir)
}

func mustFrame(f frame.Frame) []byte {
    h := frame.Header{Type: f.Type, Length: len(f.Payload)}
    hb, err := h.MarshalBinary()
    if err != nil { log.Fatal(err) }
    return append(hb, f.Payload...)
}

func writeOut(dir, name string, b []byte) {
    p := filepath.Join(dir, name)
    if err := os.WriteFile(p, b, 0o644); err != nil { log.Fatal(err) }
    fmt.Printf("%-26s %5d bytes  head: %s\n", name, len(b), shortHex(b, 32))
}

func shortHex(b []byte, n int) string {
    if len(b) == 0 { return "" }
    if n > len(b) { n = len(b) }
    enc := hex.EncodeToString(b[:n])
    var out []string
    for i := 0; i < len(enc); i += 4 {
        j := i + 4
        if j > len(enc) { j = len(enc) }
        out = append(out, enc[i:j])
    }
    return strings.Join(out, " ")
}
