package notify

import (
	"strings"

	"github.com/HerbHall/netatlas/pkg/models"
)

// renderTemplate substitutes the message tokens. Tokens it does not know
// pass through verbatim; rendering is idempotent because no token expands
// into another token.
func renderTemplate(tmpl string, device *models.Device, ev *models.DeviceStatusEvent) string {
	identity := ""
	if device.DeviceData != nil {
		identity = device.DeviceData.Identity
	}
	r := strings.NewReplacer(
		"[Device.Name]", device.Name,
		"[Device.Address]", device.IPAddress,
		"[Device.Identity]", identity,
		"[Device.Type]", string(device.Type),
		"[Service.Status]", string(ev.NewStatus),
		"[Status.Old]", string(ev.PreviousStatus),
		"[Status.New]", string(ev.NewStatus),
	)
	return r.Replace(tmpl)
}
