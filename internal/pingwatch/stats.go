package pingwatch

import (
	"math"
	"sort"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
)

// buildSample turns one target's batch result into a history row. Per-target
// sent is capped at the target's own probe count because one fping run uses
// the maximum count across all targets. Zero received leaves every RTT
// field null.
func buildSample(target *models.PingTarget, res BatchResult, at time.Time) models.PingSampleRow {
	sent := res.Sent
	if target.ProbeCount > 0 && sent > target.ProbeCount {
		sent = target.ProbeCount
	}
	received := res.Received
	if received > sent {
		received = sent
	}

	row := models.PingSampleRow{
		TargetID:   target.ID,
		Sent:       sent,
		Received:   received,
		RecordedAt: at,
	}
	if sent > 0 {
		row.LossPct = float64(sent-received) / float64(sent) * 100
	}
	if received == 0 || len(res.RTTs) == 0 {
		return row
	}

	rtts := append([]float64(nil), res.RTTs...)
	// The batch may carry more samples than this target's own probe count;
	// only the first sent belong to it, so the extras must not skew the
	// statistics.
	if len(rtts) > sent {
		rtts = rtts[:sent]
	}
	sort.Float64s(rtts)

	row.MinMs = ptr(rtts[0])
	row.MaxMs = ptr(rtts[len(rtts)-1])
	row.MeanMs = ptr(mean(rtts))
	row.MdevMs = ptr(stddev(rtts, *row.MeanMs))
	row.P10Ms = ptr(percentile(rtts, 10))
	row.P25Ms = ptr(percentile(rtts, 25))
	row.P50Ms = ptr(percentile(rtts, 50))
	row.P75Ms = ptr(percentile(rtts, 75))
	row.P90Ms = ptr(percentile(rtts, 90))
	row.P95Ms = ptr(percentile(rtts, 95))
	return row
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// stddev is the sample standard deviation; zero for a single sample.
func stddev(v []float64, m float64) float64 {
	if len(v) < 2 {
		return 0
	}
	var sum float64
	for _, x := range v {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)-1))
}

// percentile computes the p-th percentile of sorted values with linear
// interpolation between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func ptr(v float64) *float64 { return &v }
