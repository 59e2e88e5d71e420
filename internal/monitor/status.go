package monitor

import (
	"github.com/HerbHall/netatlas/internal/probe"
	"github.com/HerbHall/netatlas/pkg/models"
)

// deriveStatus maps one probe outcome onto the status enum. A reachable
// device that identified itself (model, uptime, or version came back) is
// online; reachable but anonymous is unknown; unreachable is offline.
// warning is never derived here, it is set through the API only.
func deriveStatus(res *probe.Result) models.DeviceStatus {
	if res == nil || !res.Success {
		return models.DeviceStatusOffline
	}
	if d := res.Data; d != nil && (d.Model != "" || d.Uptime != "" || d.Version != "") {
		return models.DeviceStatusOnline
	}
	return models.DeviceStatusUnknown
}
