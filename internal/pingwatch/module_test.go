package pingwatch

import (
	"context"
	"testing"

	"github.com/HerbHall/netatlas/internal/history"
	"github.com/HerbHall/netatlas/internal/inventory"
	"github.com/HerbHall/netatlas/internal/settings"
	"github.com/HerbHall/netatlas/internal/store"
	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

type plainVault struct{}

func (plainVault) EncryptSecret(p []byte) ([]byte, error) { return p, nil }
func (plainVault) DecryptSecret(c []byte) ([]byte, error) { return c, nil }

type fakePinger struct {
	results map[string]BatchResult
	count   int
}

func (f *fakePinger) Ping(ctx context.Context, addrs []string, count, timeoutMs, periodMs int) (map[string]BatchResult, error) {
	f.count = count
	return f.results, nil
}

func setupModule(t *testing.T) (*Module, *Store, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	// ping_targets carries a foreign key into the device table.
	if _, err := inventory.NewStore(ctx, db, plainVault{}, zap.NewNop()); err != nil {
		t.Fatalf("inventory store: %v", err)
	}
	pingStore, err := NewStore(ctx, db)
	if err != nil {
		t.Fatalf("ping store: %v", err)
	}
	histStore, err := history.NewStore(ctx, db, zap.NewNop())
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	settingsStore, err := settings.NewStore(ctx, db)
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}

	m := NewModule(pingStore, histStore, settingsStore)
	if err := m.Init(ctx, plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return m, pingStore, db
}

func TestRunCycleRecordsSamples(t *testing.T) {
	m, pingStore, db := setupModule(t)
	ctx := context.Background()

	targets := []*models.PingTarget{
		{IPAddress: "192.0.2.1", Enabled: true, ProbeCount: 20},
		{IPAddress: "192.0.2.2", Enabled: true, ProbeCount: 10},
		{IPAddress: "192.0.2.9", Enabled: false, ProbeCount: 50},
	}
	for _, tg := range targets {
		if err := pingStore.CreateTarget(ctx, tg); err != nil {
			t.Fatalf("create target: %v", err)
		}
	}

	fake := &fakePinger{results: map[string]BatchResult{
		"192.0.2.1": {Sent: 20, Received: 20, RTTs: sameRTTs(20, 5)},
		"192.0.2.2": {Sent: 20, Received: 0},
	}}
	m.pinger = fake
	m.runCycle(ctx)

	// maxProbeCount spans enabled targets only.
	if fake.count != 20 {
		t.Errorf("fping count = %d, want 20", fake.count)
	}

	var rows int
	if err := db.DB().QueryRow("SELECT COUNT(*) FROM history_ping_samples").Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 2 {
		t.Errorf("sample rows = %d, want 2", rows)
	}

	var loss float64
	var minMs any
	err := db.DB().QueryRow(
		"SELECT loss_pct, min_ms FROM history_ping_samples WHERE target_id = ?",
		targets[1].ID).Scan(&loss, &minMs)
	if err != nil {
		t.Fatalf("query lost target row: %v", err)
	}
	if loss != 100 {
		t.Errorf("loss = %v, want 100", loss)
	}
	if minMs != nil {
		t.Errorf("min_ms = %v, want NULL on total loss", minMs)
	}
}

func TestRunCycleOverlapGuard(t *testing.T) {
	m, _, db := setupModule(t)
	_ = db

	m.running.Store(true)
	m.runCycle(context.Background()) // must return immediately without probing
	if !m.running.Load() {
		t.Error("guard must stay set by the owner")
	}
}

func TestClampCount(t *testing.T) {
	if clampCount(0) != 1 || clampCount(-5) != 1 {
		t.Error("low counts clamp to 1")
	}
	if clampCount(101) != 100 {
		t.Error("high counts clamp to 100")
	}
	if clampCount(20) != 20 {
		t.Error("in-range count unchanged")
	}
}

func sameRTTs(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
