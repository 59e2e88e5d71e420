package models

import "time"

// DeviceMetricRow is one health sample for a device. Nil fields were not
// reported that cycle; a row with every metric nil is dropped before insert.
type DeviceMetricRow struct {
	DeviceID       string
	CPUUsagePct    *float64
	MemoryUsagePct *float64
	DiskUsagePct   *float64
	PingRTTMs      *float64
	UptimeSeconds  *int64
	RecordedAt     time.Time
}

// AllNil reports whether the row carries no metric at all.
func (r DeviceMetricRow) AllNil() bool {
	return r.CPUUsagePct == nil && r.MemoryUsagePct == nil &&
		r.DiskUsagePct == nil && r.PingRTTMs == nil && r.UptimeSeconds == nil
}

// BandwidthRow is one throughput sample derived from interface counter
// deltas on a monitored connection.
type BandwidthRow struct {
	ConnectionID  string
	DeviceID      string
	InterfaceName string
	RxBps         float64
	TxBps         float64
	RecordedAt    time.Time
}

// PromSample is a single scraped Prometheus sample selected by an
// operator-configured metric watch.
type PromSample struct {
	DeviceID   string
	MetricName string
	Labels     map[string]string
	Value      float64
	RecordedAt time.Time
}

// PingSampleRow is one batch ping outcome for a ping target.
type PingSampleRow struct {
	TargetID   string
	Sent       int
	Received   int
	LossPct    float64
	MinMs      *float64
	MaxMs      *float64
	MeanMs     *float64
	MdevMs     *float64
	P10Ms      *float64
	P25Ms      *float64
	P50Ms      *float64
	P75Ms      *float64
	P90Ms      *float64
	P95Ms      *float64
	RecordedAt time.Time
}

// PingTarget is an address probed by the batch ping prober. It may be tied
// to an inventory device or stand alone.
type PingTarget struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id,omitempty"`
	IPAddress  string    `json:"ip_address"`
	Label      string    `json:"label,omitempty"`
	Enabled    bool      `json:"enabled"`
	ProbeCount int       `json:"probe_count"` // clamped to [1, 100]
	CreatedAt  time.Time `json:"created_at"`
}

// MetricWatch is an operator-configured Prometheus metric to record each
// detailed cycle: the named metric filtered by exact label equality.
type MetricWatch struct {
	ID         string            `json:"id"`
	DeviceID   string            `json:"device_id"`
	MetricName string            `json:"metric_name"`
	Labels     map[string]string `json:"labels,omitempty"`
}
