//go:build !windows

package winpipe

import (
    "context"
    "errors"

    "meshipc/pkg/transport"
)

// Transport is only functional on Windows; elsewhere every operation fails.
type Transport struct{}

func New() *Transport { return &Transport{} }

var errUnsupported = errors.New("winpipe: only supported on windows")

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(context.Context, string) (transport.Listener, error) {
    return nil, errUnsupported
}

func (t *Transport) Dial(context.Context, string, transport.PeerInfo) (transport.Session, error) {
    return nil, errUnsupported
}
