package atlas

import (
	"context"
	"testing"

	"github.com/HerbHall/netatlas/internal/inventory"
	"github.com/HerbHall/netatlas/internal/store"
	"github.com/HerbHall/netatlas/pkg/models"
	"go.uber.org/zap"
)

type plainVault struct{}

func (plainVault) EncryptSecret(p []byte) ([]byte, error) { return p, nil }
func (plainVault) DecryptSecret(c []byte) ([]byte, error) { return c, nil }

type fixture struct {
	atlas   *Store
	devices *inventory.Store
}

func setupAtlas(t *testing.T) *fixture {
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
		t.Fatalf("atlas store: %v", err)
	}
	return &fixture{atlas: s, devices: devices}
}

func (f *fixture) device(t *testing.T, name string) *models.Device {
	t.Helper()
	d := &models.Device{Name: name, Type: models.DeviceTypeServer, IPAddress: "192.0.2.10"}
	if err := f.devices.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("create device %s: %v", name, err)
	}
	return d
}

func (f *fixture) place(t *testing.T, mapID, deviceID string) *models.Placement {
	t.Helper()
	p := &models.Placement{MapID: mapID, DeviceID: deviceID}
	if err := f.atlas.PlaceDevice(context.Background(), p); err != nil {
		t.Fatalf("place device: %v", err)
	}
	return p
}

func TestMapLifecycle(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m := &models.Map{Name: "server room", Description: "rack A"}
	if err := f.atlas.CreateMap(ctx, m); err != nil {
		t.Fatalf("create map: %v", err)
	}

	got, err := f.atlas.GetMap(ctx, m.ID)
	if err != nil {
		t.Fatalf("get map: %v", err)
	}
	if got.Name != "server room" || got.Description != "rack A" {
		t.Errorf("got %+v", got)
	}

	if _, err := f.atlas.GetMap(ctx, "nope"); err != ErrMapNotFound {
		t.Errorf("missing map error = %v, want ErrMapNotFound", err)
	}

	maps, err := f.atlas.ListMaps(ctx)
	if err != nil || len(maps) != 1 {
		t.Fatalf("list = %v err %v, want one map", maps, err)
	}
}

func TestDeleteMapCascades(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m := &models.Map{Name: "lab"}
	if err := f.atlas.CreateMap(ctx, m); err != nil {
		t.Fatalf("create map: %v", err)
	}
	a := f.place(t, m.ID, f.device(t, "a").ID)
	b := f.place(t, m.ID, f.device(t, "b").ID)

	conn := &models.Connection{MapID: m.ID, FromID: a.ID, ToID: b.ID, FromPort: "ether1"}
	if err := f.atlas.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	if err := f.atlas.DeleteMap(ctx, m.ID); err != nil {
		t.Fatalf("delete map: %v", err)
	}
	if ps, _ := f.atlas.ListPlacements(ctx, m.ID); len(ps) != 0 {
		t.Errorf("placements survived map delete: %v", ps)
	}
	if _, err := f.atlas.GetConnection(ctx, conn.ID); err != ErrConnectionNotFound {
		t.Errorf("connection after cascade = %v, want ErrConnectionNotFound", err)
	}
}

func TestPlacementUniquePerMap(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m1 := &models.Map{Name: "one"}
	m2 := &models.Map{Name: "two"}
	for _, m := range []*models.Map{m1, m2} {
		if err := f.atlas.CreateMap(ctx, m); err != nil {
			t.Fatalf("create map: %v", err)
		}
	}
	d := f.device(t, "sw1")

	f.place(t, m1.ID, d.ID)
	if err := f.atlas.PlaceDevice(ctx, &models.Placement{MapID: m1.ID, DeviceID: d.ID}); err == nil {
		t.Error("second placement on the same map should violate uniqueness")
	}
	// Same device on a different map is fine.
	f.place(t, m2.ID, d.ID)

	p, err := f.atlas.PlacementForDevice(ctx, m2.ID, d.ID)
	if err != nil || p == nil {
		t.Fatalf("placement lookup: %v %v", p, err)
	}
	if p, _ := f.atlas.PlacementForDevice(ctx, m1.ID, "unknown"); p != nil {
		t.Errorf("unknown device placement = %v, want nil", p)
	}
}

func TestConnectionRoundTrip(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m := &models.Map{Name: "core"}
	if err := f.atlas.CreateMap(ctx, m); err != nil {
		t.Fatalf("create map: %v", err)
	}
	a := f.place(t, m.ID, f.device(t, "router").ID)
	b := f.place(t, m.ID, f.device(t, "switch").ID)

	conn := &models.Connection{
		MapID: m.ID, FromID: a.ID, ToID: b.ID,
		FromPort: "sfp-sfpplus1", ToPort: "ether24", MonitorInterface: "sfp-sfpplus1",
		IsDynamic:       true,
		DynamicType:     models.DynamicTypeVMHost,
		DynamicMetadata: map[string]string{models.DynMetaVMID: "101"},
	}
	if err := f.atlas.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	got, err := f.atlas.GetConnection(ctx, conn.ID)
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if got.FromPort != "sfp-sfpplus1" || got.ToPort != "ether24" {
		t.Errorf("ports = %q/%q", got.FromPort, got.ToPort)
	}
	if !got.IsDynamic || got.DynamicType != models.DynamicTypeVMHost {
		t.Errorf("dynamic flags = %v/%s", got.IsDynamic, got.DynamicType)
	}
	if got.DynamicMetadata[models.DynMetaVMID] != "101" {
		t.Errorf("metadata = %v", got.DynamicMetadata)
	}

	monitored, err := f.atlas.ListMonitored(ctx)
	if err != nil || len(monitored) != 1 {
		t.Errorf("monitored = %v err %v, want the one with monitor_interface", monitored, err)
	}
	dyn, err := f.atlas.ListDynamic(ctx, models.DynamicTypeVMHost)
	if err != nil || len(dyn) != 1 {
		t.Errorf("dynamic = %v err %v", dyn, err)
	}
}

func TestRetargetDynamicHost(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m := &models.Map{Name: "virt"}
	if err := f.atlas.CreateMap(ctx, m); err != nil {
		t.Fatalf("create map: %v", err)
	}
	vm := f.place(t, m.ID, f.device(t, "vm-101").ID)
	oldHost := f.place(t, m.ID, f.device(t, "pve1").ID)
	newHostDev := f.device(t, "pve2")
	newHost := f.place(t, m.ID, newHostDev.ID)

	conn := &models.Connection{
		MapID: m.ID, FromID: vm.ID, ToID: oldHost.ID, ToPort: "vmbr0",
		IsDynamic: true, DynamicType: models.DynamicTypeVMHost,
		DynamicMetadata: map[string]string{models.DynMetaVMID: "101"},
	}
	if err := f.atlas.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	err := f.atlas.RetargetDynamicHost(ctx, conn.ID, newHost.ID, newHostDev.ID, "pve2")
	if err != nil {
		t.Fatalf("retarget: %v", err)
	}

	got, _ := f.atlas.GetConnection(ctx, conn.ID)
	if got.ToID != newHost.ID {
		t.Errorf("to_id = %q, want new host placement", got.ToID)
	}
	if got.FromID != vm.ID {
		t.Errorf("from_id = %q, VM endpoint must stay put", got.FromID)
	}
	if got.ToPort != "" {
		t.Errorf("to_port = %q, stale port label must be cleared", got.ToPort)
	}
	if got.DynamicMetadata[models.DynMetaLastResolvedHost] != newHostDev.ID {
		t.Errorf("metadata host = %q", got.DynamicMetadata[models.DynMetaLastResolvedHost])
	}
	if got.DynamicMetadata[models.DynMetaLastResolvedNode] != "pve2" {
		t.Errorf("metadata node = %q", got.DynamicMetadata[models.DynMetaLastResolvedNode])
	}
	if got.DynamicMetadata[models.DynMetaState] != "resolved" {
		t.Errorf("metadata state = %q", got.DynamicMetadata[models.DynMetaState])
	}
	if got.DynamicMetadata[models.DynMetaVMID] != "101" {
		t.Error("existing metadata keys must survive the rewrite")
	}
}

func TestRetargetDynamicHostVMOnTargetEnd(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m := &models.Map{Name: "virt"}
	if err := f.atlas.CreateMap(ctx, m); err != nil {
		t.Fatalf("create map: %v", err)
	}
	oldHost := f.place(t, m.ID, f.device(t, "pve1").ID)
	vm := f.place(t, m.ID, f.device(t, "vm-202").ID)
	newHostDev := f.device(t, "pve2")
	newHost := f.place(t, m.ID, newHostDev.ID)

	conn := &models.Connection{
		MapID: m.ID, FromID: oldHost.ID, ToID: vm.ID, FromPort: "vmbr0",
		IsDynamic: true, DynamicType: models.DynamicTypeVMHost,
		DynamicMetadata: map[string]string{
			models.DynMetaVMID:  "202",
			models.DynMetaVMEnd: models.VMEndTarget,
		},
	}
	if err := f.atlas.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	err := f.atlas.RetargetDynamicHost(ctx, conn.ID, newHost.ID, newHostDev.ID, "pve2")
	if err != nil {
		t.Fatalf("retarget: %v", err)
	}

	got, _ := f.atlas.GetConnection(ctx, conn.ID)
	if got.FromID != newHost.ID {
		t.Errorf("from_id = %q, host side is the source here", got.FromID)
	}
	if got.ToID != vm.ID {
		t.Errorf("to_id = %q, VM endpoint must stay put", got.ToID)
	}
	if got.FromPort != "" {
		t.Errorf("from_port = %q, stale port label must be cleared", got.FromPort)
	}
}

func TestRetargetRejectsStaticConnections(t *testing.T) {
	f := setupAtlas(t)
	ctx := context.Background()

	m := &models.Map{Name: "static"}
	if err := f.atlas.CreateMap(ctx, m); err != nil {
		t.Fatalf("create map: %v", err)
	}
	a := f.place(t, m.ID, f.device(t, "a").ID)
	b := f.place(t, m.ID, f.device(t, "b").ID)

	conn := &models.Connection{MapID: m.ID, FromID: a.ID, ToID: b.ID}
	if err := f.atlas.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := f.atlas.RetargetDynamicHost(ctx, conn.ID, b.ID, "x", "y"); err == nil {
		t.Error("static connections must not be retargeted")
	}
}
