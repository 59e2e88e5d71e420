// Package probe contains the protocol adapters. Every adapter normalizes
// whatever its protocol returns into a Result so the polling engine and the
// downstream consumers (status, history, IPAM, virt) never see protocol
// detail.
package probe

import (
	"context"
	"strconv"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
)

// Target is everything an adapter needs to probe one device.
type Target struct {
	Device      *models.Device
	Credentials *models.Credentials

	// Detailed requests the expensive extras (per-port link speeds,
	// interface tables, configured metric watches).
	Detailed bool

	// Watches are the device's configured Prometheus metric watches,
	// sampled only on detailed cycles.
	Watches []models.MetricWatch
}

// Result is the normalized outcome of one probe.
type Result struct {
	Success bool

	// Data carries the health snapshot. Nil on failure.
	Data *models.DeviceData

	// Addresses are interface addresses seen on the device, for IPAM
	// reconciliation. Only some adapters report them.
	Addresses []models.AddressObservation

	// Interfaces are discovered interfaces for the inventory.
	Interfaces []models.InterfaceObservation

	// Proxmox carries cluster topology from the Proxmox adapter only.
	Proxmox *ProxmoxInventory

	// Samples are watched Prometheus metric values from detailed cycles.
	Samples []models.PromSample
}

// ProxmoxInventory is what one Proxmox API sweep discovered.
type ProxmoxInventory struct {
	ClusterName string
	Nodes       []ProxmoxNodeInfo
	Guests      []ProxmoxGuestInfo
}

// ProxmoxNodeInfo is one cluster member as reported by /cluster/status.
type ProxmoxNodeInfo struct {
	Name   string
	Online bool
}

// ProxmoxGuestInfo is one VM or container as reported by the node APIs.
type ProxmoxGuestInfo struct {
	VMID          int
	Name          string
	Type          models.ProxmoxGuestType
	Node          string
	Status        string
	CPUs          int
	MaxMemBytes   int64
	MaxDiskBytes  int64
	UptimeSeconds int64
	IPAddresses   []string
	MACAddresses  []string
}

// Prober probes one device and reports a normalized Result. Probe returns a
// non-nil error only for adapter misuse (wrong credential type, no address);
// reachability and protocol failures come back as Success=false.
type Prober interface {
	Probe(ctx context.Context, target Target) (*Result, error)
}

// fmtUptime renders a seconds count the way operators read it.
func fmtUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := d - m*time.Minute
	switch {
	case days > 0:
		return strconv.Itoa(int(days)) + "d" + strconv.Itoa(int(h)) + "h" + strconv.Itoa(int(m)) + "m"
	case h > 0:
		return strconv.Itoa(int(h)) + "h" + strconv.Itoa(int(m)) + "m" + strconv.Itoa(int(s/time.Second)) + "s"
	default:
		return strconv.Itoa(int(m)) + "m" + strconv.Itoa(int(s/time.Second)) + "s"
	}
}

func f64ptr(v float64) *float64 { return &v }
func i64ptr(v int64) *int64     { return &v }
