package pingwatch

import (
	"math"
	"testing"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
)

func TestBuildSampleCleanTarget(t *testing.T) {
	rtts := make([]float64, 20)
	for i := range rtts {
		rtts[i] = 5 + float64(i%3)*0.1 // around 5 ms
	}
	target := &models.PingTarget{ID: "a", ProbeCount: 20}
	row := buildSample(target, BatchResult{Sent: 20, Received: 20, RTTs: rtts}, time.Now())

	if row.Sent != 20 || row.Received != 20 {
		t.Fatalf("sent/received = %d/%d, want 20/20", row.Sent, row.Received)
	}
	if row.LossPct != 0 {
		t.Errorf("loss = %v, want 0", row.LossPct)
	}
	for name, v := range map[string]*float64{
		"min": row.MinMs, "max": row.MaxMs, "mean": row.MeanMs, "mdev": row.MdevMs,
		"p50": row.P50Ms, "p95": row.P95Ms,
	} {
		if v == nil || math.IsNaN(*v) {
			t.Errorf("%s is nil or NaN", name)
		}
	}
	if *row.MinMs > *row.MeanMs || *row.MeanMs > *row.MaxMs {
		t.Errorf("min/mean/max out of order: %v %v %v", *row.MinMs, *row.MeanMs, *row.MaxMs)
	}
}

func TestBuildSampleHalfLoss(t *testing.T) {
	rtts := []float64{8, 9, 10, 11, 12, 13, 14, 15, 16, 17}
	target := &models.PingTarget{ID: "b", ProbeCount: 20}
	row := buildSample(target, BatchResult{Sent: 20, Received: 10, RTTs: rtts}, time.Now())

	if row.LossPct != 50 {
		t.Errorf("loss = %v, want 50", row.LossPct)
	}
	if row.MeanMs == nil || *row.MeanMs != 12.5 {
		t.Errorf("mean = %v, want 12.5 over the 10 received samples", row.MeanMs)
	}
	if row.MinMs == nil || *row.MinMs != 8 {
		t.Errorf("min = %v, want 8", row.MinMs)
	}
}

func TestBuildSampleTotalLoss(t *testing.T) {
	target := &models.PingTarget{ID: "c", ProbeCount: 20}
	row := buildSample(target, BatchResult{Sent: 20, Received: 0}, time.Now())

	if row.LossPct != 100 {
		t.Errorf("loss = %v, want 100", row.LossPct)
	}
	for name, v := range map[string]*float64{
		"min": row.MinMs, "max": row.MaxMs, "mean": row.MeanMs, "mdev": row.MdevMs,
		"p10": row.P10Ms, "p95": row.P95Ms,
	} {
		if v != nil {
			t.Errorf("%s = %v, want null on total loss", name, *v)
		}
	}
}

func TestBuildSampleCapsSentAtProbeCount(t *testing.T) {
	// One fping run uses the max probe count across targets; a target with
	// a smaller count must not be charged for the extra packets.
	target := &models.PingTarget{ID: "d", ProbeCount: 5}
	row := buildSample(target, BatchResult{Sent: 20, Received: 20, RTTs: []float64{1, 1, 1, 1, 1}}, time.Now())
	if row.Sent != 5 || row.Received != 5 {
		t.Errorf("sent/received = %d/%d, want capped 5/5", row.Sent, row.Received)
	}
}

func TestBuildSampleTruncatesExtraRTTs(t *testing.T) {
	// Extra batch samples past the target's own count must not enter the
	// statistics either, or max and the percentiles disagree with sent.
	target := &models.PingTarget{ID: "e", ProbeCount: 3}
	row := buildSample(target, BatchResult{
		Sent: 6, Received: 6,
		RTTs: []float64{5, 6, 7, 90, 95, 100},
	}, time.Now())

	if row.Sent != 3 || row.Received != 3 {
		t.Fatalf("sent/received = %d/%d, want capped 3/3", row.Sent, row.Received)
	}
	if row.MaxMs == nil || *row.MaxMs != 7 {
		t.Errorf("max = %v, want 7 from the target's own samples", row.MaxMs)
	}
	if row.MeanMs == nil || *row.MeanMs != 6 {
		t.Errorf("mean = %v, want 6", row.MeanMs)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	tests := []struct {
		p    float64
		want float64
	}{
		{50, 25},   // halfway between ranks 1 and 2
		{25, 17.5}, // rank 0.75
		{10, 13},   // rank 0.3
		{95, 38.5}, // rank 2.85
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile([]float64{7}, 90); got != 7 {
		t.Errorf("single-sample percentile = %v, want 7", got)
	}
}

func TestStddevIsSampleDeviation(t *testing.T) {
	v := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	m := mean(v)
	got := stddev(v, m)
	want := math.Sqrt(32.0 / 7.0) // sample variance divides by n-1
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("stddev = %v, want %v", got, want)
	}
	if stddev([]float64{3}, 3) != 0 {
		t.Error("single sample stddev should be 0")
	}
}
