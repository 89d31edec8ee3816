package peers

import (
    "encoding/json"
    "sync"
    "time"

    "go.uber.org/zap"

    "meshipc/pkg/memkv"
    "meshipc/pkg/transport"
)

// inactivity TTL for peer metadata before it is expired
const defaultPeerTTL = 5 * time.Minute

// Store keeps peer metadata and adjacency in the in-memory KV. The router
// builds its forwarding graph from ConnectedDirectIDs.
type Store struct {
    kv *memkv.Store

    idxMu     sync.RWMutex
    peerIndex map[string]struct{}
}

func NewStore(kv *memkv.Store) *Store {
    return &Store{kv: kv, peerIndex: make(map[string]struct{})}
}

type PeerMeta struct {
    ID        transport.PeerID `json:"id"`
    NodeName  string           `json:"node_name,omitempty"`
    Alg       string           `json:"alg,omitempty"`
    PublicKey []byte           `json:"public_key,omitempty"`
    Addresses []string         `json:"addresses,omitempty"`
    Reachable bool             `json:"reachable"`
    LastSeen  int64            `json:"last_seen_unix_ms"`
    RTTms     uint32           `json:"rtt_ms"`
    LossRatio float32          `json:"loss_ratio"`

    MsgsIn   uint64 `json:"msgs_in"`
    MsgsOut  uint64 `json:"msgs_out"`
    BytesIn  uint64 `json:"bytes_in"`
    BytesOut uint64 `json:"bytes_out"`

    // direct adjacency, source data for route computation
    ConnectedDirectIDs []string `json:"connected_direct_ids,omitempty"`
}

func keyPeer(id transport.PeerID) string { return "peer:" + string(id) }

func (s *Store) Upsert(meta PeerMeta) {
    b, _ := json.Marshal(meta)
    s.kv.Set(keyPeer(meta.ID), b, defaultPeerTTL)
    s.index(meta.ID)
    zap.L().Debug("peer upsert", zap.String("peer", string(meta.ID)), zap.Strings("addrs", meta.Addresses))
}

func (s *Store) Get(id transport.PeerID) (PeerMeta, bool) {
    b, ok := s.kv.Get(keyPeer(id))
    if !ok {
        return PeerMeta{}, false
    }
    var pm PeerMeta
    if err := json.Unmarshal(b, &pm); err != nil {
        return PeerMeta{}, false
    }
    return pm, true
}

func (s *Store) index(id transport.PeerID) {
    s.idxMu.Lock()
    s.peerIndex[string(id)] = struct{}{}
    s.idxMu.Unlock()
}

func (s *Store) update(id transport.PeerID, fn func(pm *PeerMeta)) {
    s.kv.Upsert(keyPeer(id), func(old []byte) []byte {
        var pm PeerMeta
        _ = json.Unmarshal(old, &pm)
        pm.ID = id
        fn(&pm)
        b, _ := json.Marshal(pm)
        return b
    })
    s.index(id)
}

// Touch updates last-seen and the address list, and refreshes the TTL.
func (s *Store) Touch(id transport.PeerID, addr string, when time.Time) {
    if when.IsZero() {
        when = time.Now()
    }
    s.update(id, func(pm *PeerMeta) {
        pm.LastSeen = when.UnixMilli()
        pm.Reachable = true
        if addr != "" {
            for _, a := range pm.Addresses {
                if a == addr {
                    return
                }
            }
            pm.Addresses = append(pm.Addresses, addr)
        }
    })
    _ = s.kv.Expire(keyPeer(id), defaultPeerTTL)
}

func (s *Store) RecordQuality(id transport.PeerID, q transport.Quality) {
    s.update(id, func(pm *PeerMeta) {
        if q.RTT > 0 {
            pm.RTTms = uint32(q.RTT / time.Millisecond)
        }
        if q.LossRatio >= 0 {
            pm.LossRatio = q.LossRatio
        }
        if !q.LastSeen.IsZero() {
            pm.LastSeen = q.LastSeen.UnixMilli()
        }
    })
}

// RecordExchange bumps message/byte counters for a peer.
func (s *Store) RecordExchange(id transport.PeerID, inBytes, outBytes, inMsgs, outMsgs uint64) {
    s.update(id, func(pm *PeerMeta) {
        pm.MsgsIn += inMsgs
        pm.MsgsOut += outMsgs
        pm.BytesIn += inBytes
        pm.BytesOut += outBytes
    })
}

// AddConnectedDirect records a direct adjacency from id to peerID.
func (s *Store) AddConnectedDirect(id, peerID transport.PeerID) {
    if id == peerID || id == "" || peerID == "" {
        return
    }
    s.update(id, func(pm *PeerMeta) {
        for _, v := range pm.ConnectedDirectIDs {
            if v == string(peerID) {
                return
            }
        }
        pm.ConnectedDirectIDs = append(pm.ConnectedDirectIDs, string(peerID))
    })
    s.index(peerID)
    zap.L().Info("adjacency added", zap.String("from", string(id)), zap.String("to", string(peerID)))
}

func (s *Store) RemoveConnectedDirect(id, peerID transport.PeerID) {
    s.update(id, func(pm *PeerMeta) {
        out := pm.ConnectedDirectIDs[:0]
        for _, v := range pm.ConnectedDirectIDs {
            if v != string(peerID) {
                out = append(out, v)
            }
        }
        pm.ConnectedDirectIDs = out
    })
    zap.L().Info("adjacency removed", zap.String("from", string(id)), zap.String("to", string(peerID)))
}

// DeletePeer removes peer meta and any adjacency references to it.
func (s *Store) DeletePeer(id transport.PeerID) {
    _ = s.kv.Delete(keyPeer(id))
    s.idxMu.Lock()
    delete(s.peerIndex, string(id))
    s.idxMu.Unlock()
    for _, pid := range s.ListPeerIDs() {
        s.RemoveConnectedDirect(pid, id)
    }
    zap.L().Info("peer deleted", zap.String("peer", string(id)))
}

// ExpirePeer sets a custom TTL; useful for retiring temp:* entries after a
// successful hello without deleting them outright.
func (s *Store) ExpirePeer(id transport.PeerID, ttl time.Duration) {
    _ = s.kv.Expire(keyPeer(id), ttl)
}

// ListPeerIDs returns a snapshot of known peer IDs.
func (s *Store) ListPeerIDs() []transport.PeerID {
    s.idxMu.RLock()
    defer s.idxMu.RUnlock()
    out := make([]transport.PeerID, 0, len(s.peerIndex))
    for id := range s.peerIndex {
        out = append(out, transport.PeerID(id))
    }
    return out
}
