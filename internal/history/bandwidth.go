package history

import (
	"sync"

	"github.com/HerbHall/netatlas/internal/probe"
	"go.uber.org/zap"
)

// counterEpsilon guards the wraparound check against small SNMP counter
// reordering between polls. A drop larger than this is treated as a reset.
const counterEpsilon = 1024

// BandwidthTracker turns raw octet counters into bit-per-second rates by
// differencing consecutive samples per connection. The first sample of a
// connection only seeds the baseline.
type BandwidthTracker struct {
	mu     sync.Mutex
	last   map[string]probe.CounterSample
	logger *zap.Logger
}

// NewBandwidthTracker creates an empty tracker.
func NewBandwidthTracker(logger *zap.Logger) *BandwidthTracker {
	return &BandwidthTracker{
		last:   make(map[string]probe.CounterSample),
		logger: logger,
	}
}

// Rate computes rx/tx bps for a connection from the new counter sample.
// Returns ok=false when no rate can be derived: first sample, counter
// wraparound or device reset, or a non-positive interval. The new sample
// always becomes the next baseline.
func (t *BandwidthTracker) Rate(connectionID string, cur probe.CounterSample) (rxBps, txBps float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[connectionID]
	t.last[connectionID] = cur
	if !seen {
		return 0, 0, false
	}

	elapsed := cur.At.Sub(prev.At).Seconds()
	if elapsed <= 0 {
		return 0, 0, false
	}

	if wrapped(cur.InOctets, prev.InOctets) || wrapped(cur.OutOctets, prev.OutOctets) {
		t.logger.Debug("counter reset detected, interval discarded",
			zap.String("connection", connectionID))
		return 0, 0, false
	}

	rxBps = float64(delta(cur.InOctets, prev.InOctets)) * 8 / elapsed
	txBps = float64(delta(cur.OutOctets, prev.OutOctets)) * 8 / elapsed
	return rxBps, txBps, true
}

// delta clamps small backwards dips (within the epsilon) to zero so the
// unsigned subtraction cannot underflow.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// Forget drops a connection's baseline, e.g. after it is deleted or its
// monitored interface changes.
func (t *BandwidthTracker) Forget(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, connectionID)
}

// wrapped reports whether the counter went backwards by more than the
// epsilon, which means a 32-bit wraparound or a device reboot.
func wrapped(cur, prev uint64) bool {
	return cur < prev && prev-cur > counterEpsilon
}
