package models

import "time"

// ProxmoxGuestType distinguishes QEMU VMs from LXC containers.
type ProxmoxGuestType string

const (
	GuestTypeQemu ProxmoxGuestType = "qemu"
	GuestTypeLXC  ProxmoxGuestType = "lxc"
)

// ProxmoxNode is one cluster member discovered through a Proxmox host
// device. Unique per (cluster, node name).
type ProxmoxNode struct {
	ID           string    `json:"id"`
	HostDeviceID string    `json:"host_device_id"`
	ClusterName  string    `json:"cluster_name"`
	NodeName     string    `json:"node_name"`
	Online       bool      `json:"online"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// ProxmoxVm is one guest (VM or container) discovered on a Proxmox host
// device. Unique per (host device, vmid). MatchedDeviceID links the guest
// to an inventory device when an IP or MAC match is found.
type ProxmoxVm struct {
	ID              string           `json:"id"`
	HostDeviceID    string           `json:"host_device_id"`
	VMID            int              `json:"vmid"`
	Name            string           `json:"name"`
	Type            ProxmoxGuestType `json:"type"`
	Node            string           `json:"node"`
	Status          string           `json:"status"` // "running", "stopped", ...
	CPUs            int              `json:"cpus,omitempty"`
	MaxMemBytes     int64            `json:"max_mem_bytes,omitempty"`
	MaxDiskBytes    int64            `json:"max_disk_bytes,omitempty"`
	UptimeSeconds   int64            `json:"uptime_seconds,omitempty"`
	IPAddresses     []string         `json:"ip_addresses,omitempty"`
	MACAddresses    []string         `json:"mac_addresses,omitempty"`
	MatchedDeviceID string           `json:"matched_device_id,omitempty"`
	LastSeenAt      time.Time        `json:"last_seen_at"`
}
