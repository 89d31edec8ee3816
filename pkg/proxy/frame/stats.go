package frame

import "sync/atomic"

// Stats counts traffic written for one proxy session. Counters are add-only
// and may be bumped concurrently by multiple sessions without coordination;
// they only move on fully completed sends and are never reset.
type Stats struct {
    bytesSent    atomic.Uint64
    messagesSent atomic.Uint64
}

// NewStats returns a zeroed counter set.
func NewStats() *Stats { return &Stats{} }

func (s *Stats) record(bytes int) {
    s.bytesSent.Add(uint64(bytes))
    s.messagesSent.Add(1)
}

// BytesSent returns the total bytes written, headers included.
func (s *Stats) BytesSent() uint64 { return s.bytesSent.Load() }

// MessagesSent returns the total frames written.
func (s *Stats) MessagesSent() uint64 { return s.messagesSent.Load() }
