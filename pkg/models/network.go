package models

import "time"

// Map is a visual topology canvas. Devices appear on maps through
// placements; edges between placements are connections.
type Map struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Placement puts one device on one map at a position. A device may be
// placed on many maps but at most once per map.
type Placement struct {
	ID       string  `json:"id"`
	MapID    string  `json:"map_id"`
	DeviceID string  `json:"device_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// DynamicType enumerates the kinds of automatically maintained connections.
type DynamicType string

const (
	// DynamicTypeVMHost marks a VM-to-host link whose host endpoint is
	// rewritten when the guest migrates to another node.
	DynamicTypeVMHost DynamicType = "proxmox_vm_host"
)

// Connection is an edge between two placements on a map.
//
// Static connections are drawn by the operator and never rewritten.
// Dynamic connections (IsDynamic) have one endpoint managed by a resolver;
// for DynamicTypeVMHost the DynMetaVMEnd metadata key names which endpoint
// is the VM, and the opposite endpoint tracks its current Proxmox host.
type Connection struct {
	ID     string `json:"id"`
	MapID  string `json:"map_id"`
	FromID string `json:"from_id"` // placement ID
	ToID   string `json:"to_id"`   // placement ID

	// Port labels on each end, e.g. "ether5". For SNMP traffic sampling
	// MonitorInterface names the interface whose counters are read.
	FromPort         string `json:"from_port,omitempty"`
	ToPort           string `json:"to_port,omitempty"`
	MonitorInterface string `json:"monitor_interface,omitempty"`

	IsDynamic       bool              `json:"is_dynamic,omitempty"`
	DynamicType     DynamicType       `json:"dynamic_type,omitempty"`
	DynamicMetadata map[string]string `json:"dynamic_metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dynamic metadata keys for DynamicTypeVMHost connections.
const (
	DynMetaVMID             = "vmid"  // numeric guest ID as string
	DynMetaVMEnd            = "vmEnd" // VMEndSource or VMEndTarget
	DynMetaLastResolvedHost = "lastResolvedHostId"
	DynMetaLastResolvedNode = "lastResolvedNodeName"
	DynMetaState            = "state" // "resolved" after a successful rewrite
)

// Values for DynMetaVMEnd. When the key is absent the VM is assumed to be
// the source endpoint.
const (
	VMEndSource = "source" // VM is FromID
	VMEndTarget = "target" // VM is ToID
)

// VMEnd returns which endpoint of a dynamic VM link is the VM.
func (c *Connection) VMEnd() string {
	if c.DynamicMetadata[DynMetaVMEnd] == VMEndTarget {
		return VMEndTarget
	}
	return VMEndSource
}
