package proxy

import "meshipc/pkg/router"

// RouterHolder defers upgrading a weak router reference until a message
// actually needs to be addressed, then caches the outcome. A serializer that
// processes many frames in a row pays the upgrade cost once, not per frame.
//
// Holders are per-serializer state and are not safe for concurrent use.
type RouterHolder struct {
    ref      *router.Ref
    r        *router.Router
    err      error
    resolved bool
}

func NewRouterHolder(ref *router.Ref) *RouterHolder {
    return &RouterHolder{ref: ref}
}

// Get returns the strong router reference, upgrading the weak reference on
// first use only. Once the upgrade has been attempted the cached result is
// returned forever after, including router.ErrClosed when the router was
// already torn down.
func (h *RouterHolder) Get() (*router.Router, error) {
    if !h.resolved {
        h.r, h.err = h.ref.Upgrade()
        h.resolved = true
    }
    return h.r, h.err
}
