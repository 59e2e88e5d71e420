package models

import "time"

// DeviceType categorizes a monitored network device and selects the
// protocol adapter used to probe it.
type DeviceType string

const (
	DeviceTypeMikrotikRouter DeviceType = "mikrotik_router"
	DeviceTypeMikrotikSwitch DeviceType = "mikrotik_switch"
	DeviceTypeGenericSNMP    DeviceType = "generic_snmp"
	DeviceTypeGenericPing    DeviceType = "generic_ping"
	DeviceTypeServer         DeviceType = "server"
	DeviceTypeAccessPoint    DeviceType = "access_point"
	DeviceTypeProxmox        DeviceType = "proxmox"
)

// IsMikrotik reports whether the device speaks the RouterOS API.
func (t DeviceType) IsMikrotik() bool {
	return t == DeviceTypeMikrotikRouter || t == DeviceTypeMikrotikSwitch
}

// DeviceStatus represents the current state of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusWarning DeviceStatus = "warning"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// Valid reports whether s is one of the enumerated status values.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusWarning, DeviceStatusOffline, DeviceStatusUnknown:
		return true
	}
	return false
}

// Device represents a network device tracked by NetAtlas.
// Exactly one of CredentialProfileID and CustomCredentials is set, or both
// are empty (ping-only devices need no credentials).
type Device struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Type                DeviceType   `json:"type"`
	IPAddress           string       `json:"ip_address,omitempty"`
	Status              DeviceStatus `json:"status"`
	CredentialProfileID string       `json:"credential_profile_id,omitempty"`
	CustomCredentials   *Credentials `json:"custom_credentials,omitempty"`
	DeviceData          *DeviceData  `json:"device_data,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// DeviceData is the last probe snapshot for a device. Transient probe
// failures never erase it; it is replaced only by a successful probe.
type DeviceData struct {
	Identity       string   `json:"identity,omitempty"`
	Model          string   `json:"model,omitempty"`
	Version        string   `json:"version,omitempty"`
	Uptime         string   `json:"uptime,omitempty"`
	UptimeSeconds  *int64   `json:"uptime_seconds,omitempty"`
	CPUUsagePct    *float64 `json:"cpu_usage_pct,omitempty"`
	MemoryUsagePct *float64 `json:"memory_usage_pct,omitempty"`
	DiskUsagePct   *float64 `json:"disk_usage_pct,omitempty"`
	PingRTTMs      *float64 `json:"ping_rtt_ms,omitempty"`
	Ports          []Port   `json:"ports,omitempty"`
}

// Port is a single interface in a device's port list.
type Port struct {
	Name        string `json:"name"`
	DefaultName string `json:"default_name,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Status      string `json:"status"` // "up" or "down"
	Speed       string `json:"speed,omitempty"`
	MACAddress  string `json:"mac_address,omitempty"`
}

// PortByDefaultName returns the port whose stable default-name matches,
// falling back to a match on the display name. Returns nil if absent.
func (d *DeviceData) PortByDefaultName(defaultName, name string) *Port {
	if d == nil {
		return nil
	}
	if defaultName != "" {
		for i := range d.Ports {
			if d.Ports[i].DefaultName == defaultName {
				return &d.Ports[i]
			}
		}
	}
	for i := range d.Ports {
		if d.Ports[i].Name == name {
			return &d.Ports[i]
		}
	}
	return nil
}

// DeviceStatusEvent records one status transition. Immutable once written.
type DeviceStatusEvent struct {
	ID             string       `json:"id"`
	DeviceID       string       `json:"device_id"`
	PreviousStatus DeviceStatus `json:"previous_status,omitempty"`
	NewStatus      DeviceStatus `json:"new_status"`
	CreatedAt      time.Time    `json:"created_at"`
}

// DeviceInterface is a discovered interface on a device, unique per
// (device, name).
type DeviceInterface struct {
	ID                string    `json:"id"`
	DeviceID          string    `json:"device_id"`
	Name              string    `json:"name"`
	Type              string    `json:"type,omitempty"`
	OperStatus        string    `json:"oper_status,omitempty"`
	AdminStatus       string    `json:"admin_status,omitempty"`
	Speed             string    `json:"speed,omitempty"`
	MACAddress        string    `json:"mac_address,omitempty"`
	ParentInterfaceID string    `json:"parent_interface_id,omitempty"`
	DiscoverySource   string    `json:"discovery_source"`
	LastSeenAt        time.Time `json:"last_seen_at"`
}

// InterfaceObservation is what a probe saw for one interface this cycle.
type InterfaceObservation struct {
	Name        string
	Type        string
	OperStatus  string
	AdminStatus string
	Speed       string
	MACAddress  string
	Source      string
}

// AddressObservation is an interface address reported by a probe,
// consumed by the IPAM reconciler. Prefix is 0 when unknown.
type AddressObservation struct {
	IP            string
	Prefix        int
	InterfaceName string
	Disabled      bool
	Comment       string
}
