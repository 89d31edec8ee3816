package proxy

import (
    "time"

    "go.uber.org/zap"

    "meshipc/pkg/proxy/frame"
    "meshipc/pkg/slotmap"
    "meshipc/pkg/transport"
)

// Session is one live proxying of a capability towards a peer: the handle,
// the per-session counters and the peer the traffic belongs to.
type Session struct {
    ID        slotmap.SlotID
    Peer      transport.PeerID
    Handle    *ProxyableHandle
    Stats     *frame.Stats
    StartedAt time.Time
}

// SessionRegistry tracks live proxy sessions behind generation-checked slot
// ids, so stale session ids from torn-down transfers never reach a later
// session reusing the same index.
type SessionRegistry struct {
    tbl *slotmap.Table[*Session]
}

func NewSessionRegistry() *SessionRegistry {
    return &SessionRegistry{tbl: slotmap.New[*Session]()}
}

// Add registers s and stamps its ID.
func (reg *SessionRegistry) Add(s *Session) slotmap.SlotID {
    if s.StartedAt.IsZero() {
        s.StartedAt = time.Now()
    }
    id := reg.tbl.Insert(s)
    s.ID = id
    zap.L().Debug("proxy session registered",
        zap.Uint32("slot", id.Index), zap.String("peer", string(s.Peer)))
    return id
}

// Get returns the session for id when it is still live.
func (reg *SessionRegistry) Get(id slotmap.SlotID) (*Session, bool) {
    p, ok := reg.tbl.Get(id)
    if !ok {
        return nil, false
    }
    return *p, true
}

// Remove releases the slot for id. Both completed and failed transfers go
// through here so a failed transfer never pins its slot.
func (reg *SessionRegistry) Remove(id slotmap.SlotID) bool {
    ok := reg.tbl.Remove(id)
    if ok {
        zap.L().Debug("proxy session released", zap.Uint32("slot", id.Index))
    }
    return ok
}

// Len returns the number of live sessions.
func (reg *SessionRegistry) Len() int { return reg.tbl.Len() }
