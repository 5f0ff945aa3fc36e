package transport

import (
	"sync/atomic"
	"time"
)

// Stats holds the four cumulative counters spec.md names. The RX
// counters are updated by the reactor as frames are drained; the TX
// counters are updated by the writing goroutine as each request is
// placed on the ring. Every counter is an atomic; external readers use
// Snapshot and accept an eventually-consistent view of the four
// together (spec §4.8, §5).
type Stats struct {
	RxBytes atomic.Uint64
	RxPkts  atomic.Uint64
	TxBytes atomic.Uint64
	TxPkts  atomic.Uint64

	startTime atomic.Int64
}

// NewStats returns a zeroed Stats with its rate-window clock started.
func NewStats(now time.Time) *Stats {
	s := &Stats{}
	s.startTime.Store(now.UnixNano())
	return s
}

// RecordRx records one received frame of size bytes.
func (s *Stats) RecordRx(size int) {
	s.RxBytes.Add(uint64(size))
	s.RxPkts.Add(1)
}

// RecordTx records one transmitted frame of size bytes.
func (s *Stats) RecordTx(size int) {
	s.TxBytes.Add(uint64(size))
	s.TxPkts.Add(1)
}

// Reset zeroes all four counters and restarts the rate window.
func (s *Stats) Reset(now time.Time) {
	s.RxBytes.Store(0)
	s.RxPkts.Store(0)
	s.TxBytes.Store(0)
	s.TxPkts.Store(0)
	s.startTime.Store(now.UnixNano())
}

// Snapshot is a point-in-time copy of the counters plus derived rates.
type Snapshot struct {
	RxBytes, RxPkts, TxBytes, TxPkts uint64
	RxBytesPerSec, TxBytesPerSec     float64
	RxPktsPerSec, TxPktsPerSec       float64
}

// Snapshot reads all four counters and derives per-second rates over
// the window since construction or the last Reset.
func (s *Stats) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		RxBytes: s.RxBytes.Load(),
		RxPkts:  s.RxPkts.Load(),
		TxBytes: s.TxBytes.Load(),
		TxPkts:  s.TxPkts.Load(),
	}

	secs := time.Duration(now.UnixNano() - s.startTime.Load()).Seconds()
	if secs > 0 {
		snap.RxBytesPerSec = float64(snap.RxBytes) / secs
		snap.TxBytesPerSec = float64(snap.TxBytes) / secs
		snap.RxPktsPerSec = float64(snap.RxPkts) / secs
		snap.TxPktsPerSec = float64(snap.TxPkts) / secs
	}
	return snap
}
