package models

import "time"

// IpamEntryType describes how a pool's membership is expressed.
type IpamEntryType string

const (
	IpamEntryCIDR   IpamEntryType = "cidr"
	IpamEntryRange  IpamEntryType = "range"
	IpamEntrySingle IpamEntryType = "single"
)

// IpamPool is a named collection of IP space. Exactly one of CIDR,
// (RangeStart, RangeEnd), or SingleIP is populated depending on EntryType.
type IpamPool struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	EntryType   IpamEntryType `json:"entry_type"`
	CIDR        string        `json:"cidr,omitempty"`
	RangeStart  string        `json:"range_start,omitempty"`
	RangeEnd    string        `json:"range_end,omitempty"`
	SingleIP    string        `json:"single_ip,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// IpamAddressStatus is the lifecycle state of a tracked address.
type IpamAddressStatus string

const (
	IpamStatusAvailable IpamAddressStatus = "available"
	IpamStatusAssigned  IpamAddressStatus = "assigned"
	IpamStatusReserved  IpamAddressStatus = "reserved"
	IpamStatusOffline   IpamAddressStatus = "offline"
)

// IpamAddressSource records how an address entered the inventory.
// Manual entries are never overwritten by sync.
type IpamAddressSource string

const (
	IpamSourceManual     IpamAddressSource = "manual"
	IpamSourceDiscovered IpamAddressSource = "discovered"
	IpamSourceSync       IpamAddressSource = "sync"
)

// IpamAddress is one tracked IP. IPAddress is globally unique. PrefixLen is
// the subnet prefix the address was observed with; zero when unknown.
type IpamAddress struct {
	ID            string            `json:"id"`
	IPAddress     string            `json:"ip_address"`
	PrefixLen     int               `json:"prefix_len,omitempty"`
	PoolID        string            `json:"pool_id,omitempty"`
	Status        IpamAddressStatus `json:"status"`
	Source        IpamAddressSource `json:"source"`
	Hostname      string            `json:"hostname,omitempty"`
	MACAddress    string            `json:"mac_address,omitempty"`
	InterfaceName string            `json:"interface_name,omitempty"`
	Description   string            `json:"description,omitempty"`
	LastSeenAt    *time.Time        `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IpamAssignment links an address to a device. Unique per (address, device).
type IpamAssignment struct {
	ID        string    `json:"id"`
	AddressID string    `json:"address_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IpamSyncResult summarizes one reconciliation pass for a device.
type IpamSyncResult struct {
	DeviceID       string `json:"device_id"`
	Created        int    `json:"created"`
	Updated        int    `json:"updated"`
	MarkedOffline  int    `json:"marked_offline"`
	PoolsMatched   int    `json:"pools_matched"`
	PoolsUnmatched int    `json:"pools_unmatched"`
}
