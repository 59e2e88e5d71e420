package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/netatlas/internal/ipam"
	"github.com/HerbHall/netatlas/internal/store"
	"github.com/HerbHall/netatlas/pkg/models"
	"go.uber.org/zap"
)

type plainVault struct{}

func (plainVault) EncryptSecret(p []byte) ([]byte, error) { return p, nil }
func (plainVault) DecryptSecret(c []byte) ([]byte, error) { return c, nil }

func setupInventory(t *testing.T) (*Store, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(context.Background(), db, plainVault{}, zap.NewNop())
	if err != nil {
		t.Fatalf("inventory store: %v", err)
	}
	return s, db
}

func mikrotikCreds() *models.Credentials {
	return &models.Credentials{
		Type:     models.CredentialTypeMikrotik,
		Mikrotik: &models.MikrotikCredentials{Username: "admin", Password: "secret"},
	}
}

func TestCreateDeviceDefaultsAndRoundTrip(t *testing.T) {
	s, _ := setupInventory(t)
	ctx := context.Background()

	d := &models.Device{
		Name: "rb5009", Type: models.DeviceTypeMikrotikRouter,
		IPAddress:         "10.0.0.1",
		CustomCredentials: mikrotikCreds(),
	}
	if err := s.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.ID == "" {
		t.Fatal("ID not assigned")
	}

	got, err := s.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.DeviceStatusUnknown {
		t.Errorf("status = %s, want unknown default", got.Status)
	}
	if got.CustomCredentials == nil || got.CustomCredentials.Mikrotik.Username != "admin" {
		t.Errorf("credentials = %+v", got.CustomCredentials)
	}

	if _, err := s.GetDevice(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("missing device error = %v", err)
	}
}

func TestCreateDeviceRejectsIncompatibleCredentials(t *testing.T) {
	s, _ := setupInventory(t)
	ctx := context.Background()

	// SNMP credentials on a Mikrotik device.
	err := s.CreateDevice(ctx, &models.Device{
		Name: "bad", Type: models.DeviceTypeMikrotikRouter,
		CustomCredentials: &models.Credentials{
			Type: models.CredentialTypeSNMP,
			SNMP: &models.SNMPCredentials{Version: "v2c", Community: "public"},
		},
	})
	if !errors.Is(err, ErrIncompatibleCredentials) {
		t.Errorf("err = %v, want ErrIncompatibleCredentials", err)
	}

	// Same through a profile reference.
	profile := &models.CredentialProfile{
		Name: "snmp-ro", Type: models.CredentialTypeSNMP,
		Credentials: &models.Credentials{
			Type: models.CredentialTypeSNMP,
			SNMP: &models.SNMPCredentials{Version: "v2c", Community: "public"},
		},
	}
	if err := s.CreateProfile(ctx, profile); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	err = s.CreateDevice(ctx, &models.Device{
		Name: "bad2", Type: models.DeviceTypeMikrotikRouter,
		CredentialProfileID: profile.ID,
	})
	if !errors.Is(err, ErrIncompatibleCredentials) {
		t.Errorf("profile err = %v, want ErrIncompatibleCredentials", err)
	}

	// SNMP on a server is fine.
	if err := s.CreateDevice(ctx, &models.Device{
		Name: "srv", Type: models.DeviceTypeServer, CredentialProfileID: profile.ID,
	}); err != nil {
		t.Errorf("server with snmp profile: %v", err)
	}
}

func TestResolveCredentialsCustomWins(t *testing.T) {
	s, _ := setupInventory(t)
	ctx := context.Background()

	profile := &models.CredentialProfile{
		Name: "shared", Type: models.CredentialTypeMikrotik,
		Credentials: &models.Credentials{
			Type:     models.CredentialTypeMikrotik,
			Mikrotik: &models.MikrotikCredentials{Username: "profile-user", Password: "p"},
		},
	}
	if err := s.CreateProfile(ctx, profile); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	custom := &models.Device{
		Name: "custom", Type: models.DeviceTypeMikrotikRouter,
		CredentialProfileID: profile.ID,
		CustomCredentials:   mikrotikCreds(),
	}
	viaProfile := &models.Device{
		Name: "shared", Type: models.DeviceTypeMikrotikRouter,
		CredentialProfileID: profile.ID,
	}
	pingOnly := &models.Device{Name: "ping", Type: models.DeviceTypeGenericPing}
	for _, d := range []*models.Device{custom, viaProfile, pingOnly} {
		if err := s.CreateDevice(ctx, d); err != nil {
			t.Fatalf("create %s: %v", d.Name, err)
		}
	}

	creds, err := s.ResolveCredentials(ctx, custom)
	if err != nil || creds.Mikrotik.Username != "admin" {
		t.Errorf("custom creds = %+v err %v, custom must win", creds, err)
	}
	creds, err = s.ResolveCredentials(ctx, viaProfile)
	if err != nil || creds.Mikrotik.Username != "profile-user" {
		t.Errorf("profile creds = %+v err %v", creds, err)
	}
	creds, err = s.ResolveCredentials(ctx, pingOnly)
	if err != nil || creds != nil {
		t.Errorf("ping-only creds = %+v err %v, want nil, nil", creds, err)
	}

	// Dangling profile reference fails resolution.
	if err := s.DeleteProfile(ctx, profile.ID); err != nil {
		t.Fatalf("delete profile: %v", err)
	}
	if _, err := s.ResolveCredentials(ctx, viaProfile); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("dangling profile err = %v", err)
	}
}

func TestGetDeviceByAnyIP(t *testing.T) {
	s, db := setupInventory(t)
	ctx := context.Background()

	ipamStore, err := ipam.NewStore(ctx, db, zap.NewNop())
	if err != nil {
		t.Fatalf("ipam store: %v", err)
	}

	d := &models.Device{Name: "gw", Type: models.DeviceTypeMikrotikRouter, IPAddress: "10.0.0.1"}
	if err := s.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetDeviceByAnyIP(ctx, "10.0.0.1")
	if err != nil || got.ID != d.ID {
		t.Errorf("primary IP lookup = %v err %v", got, err)
	}

	// Secondary address known only through IPAM.
	addrID, _, err := ipamStore.UpsertObserved(ctx, "172.16.0.1", 24, "", "vlan10", "", time.Now())
	if err != nil {
		t.Fatalf("upsert address: %v", err)
	}
	if err := ipamStore.EnsureAssignment(ctx, addrID, d.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err = s.GetDeviceByAnyIP(ctx, "172.16.0.1")
	if err != nil || got.ID != d.ID {
		t.Errorf("ipam fallback lookup = %v err %v", got, err)
	}

	if _, err := s.GetDeviceByAnyIP(ctx, "192.0.2.254"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("unknown IP err = %v", err)
	}
}

func TestUpdateDeviceDataAndStatus(t *testing.T) {
	s, _ := setupInventory(t)
	ctx := context.Background()

	d := &models.Device{Name: "sw", Type: models.DeviceTypeMikrotikSwitch, IPAddress: "10.0.0.2"}
	if err := s.CreateDevice(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	cpu := 7.5
	if err := s.UpdateDeviceData(ctx, d.ID, &models.DeviceData{
		Identity: "crs328", CPUUsagePct: &cpu,
		Ports: []models.Port{{Name: "ether1", Status: "up"}},
	}); err != nil {
		t.Fatalf("update data: %v", err)
	}
	if err := s.UpdateDeviceStatus(ctx, d.ID, models.DeviceStatusOnline); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, _ := s.GetDevice(ctx, d.ID)
	if got.Status != models.DeviceStatusOnline {
		t.Errorf("status = %s", got.Status)
	}
	if got.DeviceData == nil || got.DeviceData.Identity != "crs328" || len(got.DeviceData.Ports) != 1 {
		t.Errorf("device data = %+v", got.DeviceData)
	}

	if err := s.UpdateDeviceStatus(ctx, "missing", models.DeviceStatusOnline); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("missing device err = %v", err)
	}
}

func TestSelectableProfiles(t *testing.T) {
	s, _ := setupInventory(t)
	ctx := context.Background()

	for _, p := range []*models.CredentialProfile{
		{Name: "ros", Type: models.CredentialTypeMikrotik, Credentials: mikrotikCreds()},
		{Name: "node-exp", Type: models.CredentialTypePrometheus, Credentials: &models.Credentials{
			Type:       models.CredentialTypePrometheus,
			Prometheus: &models.PrometheusCredentials{Port: 9100},
		}},
	} {
		if err := s.CreateProfile(ctx, p); err != nil {
			t.Fatalf("create profile %s: %v", p.Name, err)
		}
	}

	got, err := s.SelectableProfiles(ctx, models.DeviceTypeServer)
	if err != nil {
		t.Fatalf("selectable: %v", err)
	}
	if len(got) != 1 || got[0].Name != "node-exp" {
		t.Errorf("server profiles = %v, want only the prometheus one", got)
	}
	got, _ = s.SelectableProfiles(ctx, models.DeviceTypeGenericPing)
	if len(got) != 0 {
		t.Errorf("ping profiles = %v, want none", got)
	}
}
