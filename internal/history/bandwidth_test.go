package history

import (
	"testing"
	"time"

	"github.com/HerbHall/netatlas/internal/probe"
	"go.uber.org/zap"
)

func TestRateFirstSampleSeedsBaseline(t *testing.T) {
	tr := NewBandwidthTracker(zap.NewNop())

	_, _, ok := tr.Rate("c1", probe.CounterSample{InOctets: 1000, OutOctets: 500, At: time.Now()})
	if ok {
		t.Error("first sample must not produce a rate")
	}
}

func TestRateFromCounterDelta(t *testing.T) {
	tr := NewBandwidthTracker(zap.NewNop())
	t0 := time.Now()

	tr.Rate("c1", probe.CounterSample{InOctets: 1000, OutOctets: 500, At: t0})
	rx, tx, ok := tr.Rate("c1", probe.CounterSample{
		InOctets: 1000 + 125_000, OutOctets: 500 + 12_500, At: t0.Add(10 * time.Second),
	})
	if !ok {
		t.Fatal("second sample should produce a rate")
	}
	// 125000 octets over 10s = 100 kbit/s.
	if rx != 100_000 {
		t.Errorf("rx = %v, want 100000", rx)
	}
	if tx != 10_000 {
		t.Errorf("tx = %v, want 10000", tx)
	}
}

func TestRateDiscardsWraparound(t *testing.T) {
	tr := NewBandwidthTracker(zap.NewNop())
	t0 := time.Now()

	tr.Rate("c1", probe.CounterSample{InOctets: 4_000_000_000, OutOctets: 100, At: t0})

	// Counter reset: huge backwards jump discards the interval.
	_, _, ok := tr.Rate("c1", probe.CounterSample{
		InOctets: 5000, OutOctets: 200, At: t0.Add(10 * time.Second),
	})
	if ok {
		t.Error("wrapped counter must discard the interval")
	}

	// The reset sample became the new baseline; the next delta is valid.
	rx, _, ok := tr.Rate("c1", probe.CounterSample{
		InOctets: 5000 + 10_000, OutOctets: 300, At: t0.Add(20 * time.Second),
	})
	if !ok {
		t.Fatal("interval after the reset should produce a rate")
	}
	if rx != 8_000 {
		t.Errorf("rx = %v, want 8000", rx)
	}
}

func TestRateToleratesSmallBackwardsJitter(t *testing.T) {
	tr := NewBandwidthTracker(zap.NewNop())
	t0 := time.Now()

	tr.Rate("c1", probe.CounterSample{InOctets: 10_000, OutOctets: 10_000, At: t0})
	// A dip within the epsilon is SNMP reordering, not a reset. The interval
	// still yields a rate, with the dipped counter clamped to zero delta.
	rx, tx, ok := tr.Rate("c1", probe.CounterSample{
		InOctets: 18_000, OutOctets: 9_500, At: t0.Add(8 * time.Second),
	})
	if !ok {
		t.Fatal("small dip should not discard the interval")
	}
	if rx != 8_000 {
		t.Errorf("rx = %v, want 8000", rx)
	}
	if tx != 0 {
		t.Errorf("tx = %v, want clamped 0", tx)
	}
}

func TestRateNonPositiveInterval(t *testing.T) {
	tr := NewBandwidthTracker(zap.NewNop())
	t0 := time.Now()

	tr.Rate("c1", probe.CounterSample{InOctets: 100, At: t0})
	_, _, ok := tr.Rate("c1", probe.CounterSample{InOctets: 200, At: t0})
	if ok {
		t.Error("zero elapsed time must not produce a rate")
	}
}

func TestForgetDropsBaseline(t *testing.T) {
	tr := NewBandwidthTracker(zap.NewNop())
	t0 := time.Now()

	tr.Rate("c1", probe.CounterSample{InOctets: 100, At: t0})
	tr.Forget("c1")
	_, _, ok := tr.Rate("c1", probe.CounterSample{InOctets: 200, At: t0.Add(time.Second)})
	if ok {
		t.Error("forgotten connection starts from a fresh baseline")
	}
}

func TestWrapped(t *testing.T) {
	if wrapped(100, 50) {
		t.Error("forward counter is not a wrap")
	}
	if wrapped(100, 100+counterEpsilon) {
		t.Error("drop within epsilon is not a wrap")
	}
	if !wrapped(100, 200+counterEpsilon) {
		t.Error("drop beyond epsilon is a wrap")
	}
}
