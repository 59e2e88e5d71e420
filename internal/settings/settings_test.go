package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/netatlas/internal/store"
	"github.com/HerbHall/netatlas/pkg/models"
)

func setupSettings(t *testing.T) *Store {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := setupSettings(t)
	ctx := context.Background()

	if err := s.Set(ctx, KeyPollingInterval, 30); err != nil {
		t.Fatalf("set: %v", err)
	}
	var v int
	if err := s.Get(ctx, KeyPollingInterval, &v); err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 30 {
		t.Errorf("value = %d, want 30", v)
	}

	// Set replaces the previous value.
	if err := s.Set(ctx, KeyPollingInterval, 60); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Get(ctx, KeyPollingInterval, &v); err != nil || v != 60 {
		t.Errorf("after overwrite = %d err %v, want 60", v, err)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := setupSettings(t)

	var v int
	if err := s.Get(context.Background(), "no_such_key", &v); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetIntAndBoolDefaults(t *testing.T) {
	s := setupSettings(t)
	ctx := context.Background()

	got, err := s.GetInt(ctx, KeyPingProbeCount, 5)
	if err != nil || got != 5 {
		t.Errorf("unset int = %d err %v, want default 5", got, err)
	}
	if err := s.Set(ctx, KeyPingProbeCount, 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = s.GetInt(ctx, KeyPingProbeCount, 5)
	if err != nil || got != 10 {
		t.Errorf("stored int = %d err %v, want 10", got, err)
	}

	b, err := s.GetBool(ctx, "flag", true)
	if err != nil || !b {
		t.Errorf("unset bool = %v err %v, want default true", b, err)
	}
	if err := s.Set(ctx, "flag", false); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	b, err = s.GetBool(ctx, "flag", true)
	if err != nil || b {
		t.Errorf("stored bool = %v err %v, want false", b, err)
	}
}

func TestStructValueRoundTrip(t *testing.T) {
	s := setupSettings(t)
	ctx := context.Background()

	until := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	in := models.GlobalMute{Active: true, Until: &until}
	if err := s.Set(ctx, KeyGlobalAlarmMute, in); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out models.GlobalMute
	if err := s.Get(ctx, KeyGlobalAlarmMute, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !out.Active || out.Until == nil || !out.Until.Equal(until) {
		t.Errorf("roundtrip = %+v, want %+v", out, in)
	}
}
