package notify

import (
	"testing"

	"github.com/HerbHall/netatlas/pkg/models"
)

func TestRenderTemplate(t *testing.T) {
	device := &models.Device{
		Name:       "core-router",
		Type:       models.DeviceTypeMikrotikRouter,
		IPAddress:  "10.0.0.1",
		DeviceData: &models.DeviceData{Identity: "RB5009"},
	}
	ev := &models.DeviceStatusEvent{
		PreviousStatus: models.DeviceStatusOnline,
		NewStatus:      models.DeviceStatusOffline,
	}

	got := renderTemplate(
		"[Device.Name] ([Device.Identity], [Device.Address], [Device.Type]): [Status.Old] -> [Status.New], now [Service.Status]",
		device, ev)
	want := "core-router (RB5009, 10.0.0.1, mikrotik_router): online -> offline, now offline"
	if got != want {
		t.Errorf("rendered = %q, want %q", got, want)
	}
}

func TestRenderTemplateUnknownTokenPassesThrough(t *testing.T) {
	device := &models.Device{Name: "sw1"}
	ev := &models.DeviceStatusEvent{NewStatus: models.DeviceStatusOnline}

	got := renderTemplate("[Device.Name] [Device.Serial] up", device, ev)
	if got != "sw1 [Device.Serial] up" {
		t.Errorf("rendered = %q, unknown tokens must pass verbatim", got)
	}
}

func TestRenderTemplateNilDeviceData(t *testing.T) {
	device := &models.Device{Name: "ping-only"}
	ev := &models.DeviceStatusEvent{NewStatus: models.DeviceStatusOffline}

	got := renderTemplate("[Device.Identity]|[Device.Name]", device, ev)
	if got != "|ping-only" {
		t.Errorf("rendered = %q", got)
	}
}

func TestRenderTemplateIdempotent(t *testing.T) {
	device := &models.Device{Name: "sw1", IPAddress: "10.0.0.2"}
	ev := &models.DeviceStatusEvent{NewStatus: models.DeviceStatusOnline}

	once := renderTemplate("[Device.Name] ([Device.Address]) is [Status.New]", device, ev)
	if got := renderTemplate(once, device, ev); got != once {
		t.Errorf("second pass changed the message: %q -> %q", once, got)
	}
}
