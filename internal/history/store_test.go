package history

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/HerbHall/netatlas/internal/inventory"
	"github.com/HerbHall/netatlas/internal/store"
	"github.com/HerbHall/netatlas/pkg/models"
	"go.uber.org/zap"
)

type plainVault struct{}

func (plainVault) EncryptSecret(p []byte) ([]byte, error) { return p, nil }
func (plainVault) DecryptSecret(c []byte) ([]byte, error) { return c, nil }

func setupHistory(t *testing.T) (*Store, *inventory.Store, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	devices, err := inventory.NewStore(ctx, db, plainVault{}, zap.NewNop())
	if err != nil {
		t.Fatalf("inventory store: %v", err)
	}
	s, err := NewStore(ctx, db, zap.NewNop())
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	return s, devices, db
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }

func TestInsertDeviceMetricsDropsEmptyRows(t *testing.T) {
	s, _, _ := setupHistory(t)
	ctx := context.Background()
	now := time.Now()

	n, err := s.InsertDeviceMetrics(ctx, []models.DeviceMetricRow{
		{DeviceID: "d1", CPUUsagePct: fp(12.5), RecordedAt: now},
		{DeviceID: "d2", RecordedAt: now},                               // nothing reported
		{DeviceID: "d3", PingRTTMs: fp(math.NaN()), RecordedAt: now},    // NaN scrubbed to nil
		{DeviceID: "d4", CPUUsagePct: fp(math.Inf(1)), UptimeSeconds: ip(300), RecordedAt: now},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	// d2 and d3 carry no usable metric; d4 keeps its uptime.
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	rows, err := s.DeviceMetricsRange(ctx, "d4", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("d4 rows = %d, want 1", len(rows))
	}
	if rows[0].CPUUsagePct != nil {
		t.Errorf("cpu = %v, non-finite value must be stored as null", *rows[0].CPUUsagePct)
	}
	if rows[0].UptimeSeconds == nil || *rows[0].UptimeSeconds != 300 {
		t.Errorf("uptime = %v, want 300", rows[0].UptimeSeconds)
	}
}

func TestDeviceMetricsRangeBounds(t *testing.T) {
	s, _, _ := setupHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var batch []models.DeviceMetricRow
	for i := 0; i < 5; i++ {
		batch = append(batch, models.DeviceMetricRow{
			DeviceID: "d1", CPUUsagePct: fp(float64(i)), RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	if _, err := s.InsertDeviceMetrics(ctx, batch); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := s.DeviceMetricsRange(ctx, "d1", base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want inclusive window of 3", len(rows))
	}
	if *rows[0].CPUUsagePct != 1 || *rows[2].CPUUsagePct != 3 {
		t.Errorf("window = [%v, %v], want [1, 3]", *rows[0].CPUUsagePct, *rows[2].CPUUsagePct)
	}
}

func TestInsertBandwidthSkipsNonFinite(t *testing.T) {
	s, _, db := setupHistory(t)
	ctx := context.Background()
	now := time.Now()

	err := s.InsertBandwidth(ctx, []models.BandwidthRow{
		{ConnectionID: "c1", DeviceID: "d1", InterfaceName: "ether1", RxBps: 1e6, TxBps: 2e5, RecordedAt: now},
		{ConnectionID: "c2", DeviceID: "d1", InterfaceName: "ether2", RxBps: math.Inf(1), TxBps: 0, RecordedAt: now},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var n int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM history_bandwidth").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want the finite one only", n)
	}

	rows, err := s.BandwidthRange(ctx, "c1", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil || len(rows) != 1 {
		t.Fatalf("range = %v err %v", rows, err)
	}
	if rows[0].RxBps != 1e6 || rows[0].InterfaceName != "ether1" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestSweepPrunesAgedRows(t *testing.T) {
	s, _, db := setupHistory(t)
	ctx := context.Background()

	old := time.Now().Add(-10 * 24 * time.Hour)
	fresh := time.Now()
	if _, err := s.InsertDeviceMetrics(ctx, []models.DeviceMetricRow{
		{DeviceID: "d1", CPUUsagePct: fp(1), RecordedAt: old},
		{DeviceID: "d1", CPUUsagePct: fp(2), RecordedAt: fresh},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertPingSamples(ctx, []models.PingSampleRow{
		{TargetID: "t1", Sent: 4, Received: 4, RecordedAt: old},
	}); err != nil {
		t.Fatalf("insert ping: %v", err)
	}

	s.Sweep(ctx, DefaultRetention(), nil)

	var metrics, pings int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM history_device_metrics").Scan(&metrics); err != nil {
		t.Fatalf("count metrics: %v", err)
	}
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM history_ping_samples").Scan(&pings); err != nil {
		t.Fatalf("count pings: %v", err)
	}
	if metrics != 1 {
		t.Errorf("metric rows = %d, want only the fresh one", metrics)
	}
	if pings != 0 {
		t.Errorf("ping rows = %d, want aged row pruned", pings)
	}
}

func TestSweepZeroHorizonKeepsRows(t *testing.T) {
	s, _, db := setupHistory(t)
	ctx := context.Background()

	if _, err := s.InsertDeviceMetrics(ctx, []models.DeviceMetricRow{
		{DeviceID: "d1", CPUUsagePct: fp(1), RecordedAt: time.Now().Add(-365 * 24 * time.Hour)},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s.Sweep(ctx, RetentionConfig{}, nil) // all horizons zero: pruning disabled

	var n int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM history_device_metrics").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, zero horizon must not prune", n)
	}
}

func TestSweepPrunesStatusEvents(t *testing.T) {
	s, devices, db := setupHistory(t)
	ctx := context.Background()

	d := &models.Device{Name: "gw", Type: models.DeviceTypeMikrotikRouter, IPAddress: "10.0.0.1"}
	if err := devices.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := devices.AppendStatusEvent(ctx, d.ID, models.DeviceStatusOnline, models.DeviceStatusOffline); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Age one event past the journal horizon.
	_, err := db.DB().Exec(`
		UPDATE device_status_events SET created_at = ?
		WHERE id = (SELECT id FROM device_status_events LIMIT 1)
	`, time.Now().Add(-100*24*time.Hour).UTC())
	if err != nil {
		t.Fatalf("age event: %v", err)
	}

	s.Sweep(ctx, DefaultRetention(), devices)

	var n int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM device_status_events").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("journal rows = %d, want aged event pruned and fresh kept", n)
	}
}

func TestWatchLifecycle(t *testing.T) {
	s, devices, _ := setupHistory(t)
	ctx := context.Background()

	d := &models.Device{Name: "web01", Type: models.DeviceTypeServer, IPAddress: "192.0.2.5"}
	if err := devices.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create device: %v", err)
	}

	w := &models.MetricWatch{
		DeviceID:   d.ID,
		MetricName: "node_network_receive_bytes_total",
		Labels:     map[string]string{"device": "eth0"},
	}
	if err := s.CreateWatch(ctx, w); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	// Same metric and labels again: idempotent.
	if err := s.CreateWatch(ctx, &models.MetricWatch{
		DeviceID: d.ID, MetricName: w.MetricName, Labels: w.Labels,
	}); err != nil {
		t.Fatalf("duplicate create: %v", err)
	}

	got, err := s.ListWatchesByDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("watches = %d, want 1", len(got))
	}
	if got[0].Labels["device"] != "eth0" {
		t.Errorf("labels = %v", got[0].Labels)
	}

	if err := s.DeleteWatch(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.ListWatchesByDevice(ctx, d.ID); len(got) != 0 {
		t.Errorf("watches after delete = %d, want 0", len(got))
	}
}
