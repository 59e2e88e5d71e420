package monitor

import (
	"testing"

	"github.com/HerbHall/netatlas/internal/probe"
	"github.com/HerbHall/netatlas/pkg/models"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name string
		res  *probe.Result
		want models.DeviceStatus
	}{
		{"nil result", nil, models.DeviceStatusOffline},
		{"failure", &probe.Result{Success: false}, models.DeviceStatusOffline},
		{"failure with stale data", &probe.Result{Success: false, Data: &models.DeviceData{Model: "RB5009"}}, models.DeviceStatusOffline},
		{"success no data", &probe.Result{Success: true}, models.DeviceStatusUnknown},
		{"success empty data", &probe.Result{Success: true, Data: &models.DeviceData{}}, models.DeviceStatusUnknown},
		{"success ping only", &probe.Result{Success: true, Data: &models.DeviceData{PingRTTMs: f64(4.2)}}, models.DeviceStatusUnknown},
		{"success with model", &probe.Result{Success: true, Data: &models.DeviceData{Model: "RB5009"}}, models.DeviceStatusOnline},
		{"success with uptime", &probe.Result{Success: true, Data: &models.DeviceData{Uptime: "2d4h1m"}}, models.DeviceStatusOnline},
		{"success with version", &probe.Result{Success: true, Data: &models.DeviceData{Version: "7.14"}}, models.DeviceStatusOnline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveStatus(tt.res); got != tt.want {
				t.Errorf("deriveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func f64(v float64) *float64 { return &v }
