package probe

import (
	"context"
	"errors"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/go-routeros/routeros/v3"
	"go.uber.org/zap"
)

const defaultRouterOSPort = 8728

// RouterOSProber probes Mikrotik devices over the RouterOS API.
type RouterOSProber struct {
	logger *zap.Logger
}

// NewRouterOSProber creates the RouterOS adapter.
func NewRouterOSProber(logger *zap.Logger) *RouterOSProber {
	return &RouterOSProber{logger: logger}
}

// Probe fetches identity, system resources, and the interface list. On
// detailed probes it additionally samples live link speed per ethernet
// interface with the monitor command.
func (p *RouterOSProber) Probe(ctx context.Context, target Target) (*Result, error) {
	if target.Credentials == nil || target.Credentials.Mikrotik == nil {
		return nil, errors.New("routeros probe: mikrotik credentials required")
	}
	creds := target.Credentials.Mikrotik
	port := creds.APIPort
	if port == 0 {
		port = defaultRouterOSPort
	}
	addr := net.JoinHostPort(target.Device.IPAddress, strconv.Itoa(port))

	// Dial the connection ourselves so the context deadline covers the whole
	// API exchange, not just the TCP handshake. A device that accepts the
	// connection but never answers the protocol would otherwise block Run
	// reads indefinitely.
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		p.logger.Debug("routeros dial failed", zap.String("addr", addr), zap.Error(err))
		return &Result{Success: false}, nil
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := routeros.NewClient(conn)
	if err != nil {
		conn.Close()
		return &Result{Success: false}, nil
	}
	defer client.Close()
	if err := client.LoginContext(ctx, creds.Username, creds.Password); err != nil {
		p.logger.Debug("routeros login failed", zap.String("addr", addr), zap.Error(err))
		return &Result{Success: false}, nil
	}

	data := &models.DeviceData{}

	identity, err := client.Run("/system/identity/print")
	if err != nil {
		return &Result{Success: false}, nil
	}
	if len(identity.Re) > 0 {
		data.Identity = identity.Re[0].Map["name"]
	}

	resource, err := client.Run("/system/resource/print")
	if err != nil {
		return &Result{Success: false}, nil
	}
	if len(resource.Re) > 0 {
		m := resource.Re[0].Map
		data.Model = m["board-name"]
		data.Version = m["version"]
		data.Uptime = m["uptime"]
		if v, ok := parseFloat(m["cpu-load"]); ok {
			data.CPUUsagePct = f64ptr(v)
		}
		total, okT := parseFloat(m["total-memory"])
		free, okF := parseFloat(m["free-memory"])
		if okT && okF && total > 0 {
			data.MemoryUsagePct = f64ptr(math.Round((total - free) / total * 100))
		}
	}

	ifaces, err := client.Run("/interface/print")
	if err != nil {
		return &Result{Success: false}, nil
	}

	var speeds map[string]string
	if target.Detailed {
		speeds = p.monitorSpeeds(client)
	}

	result := &Result{Success: true, Data: data}
	for _, re := range ifaces.Re {
		m := re.Map
		port := models.Port{
			Name:        m["name"],
			DefaultName: m["default-name"],
			Comment:     m["comment"],
			MACAddress:  m["mac-address"],
			Status:      "down",
		}
		if isTruthy(m["running"]) {
			port.Status = "up"
		}
		// Speed priority: this cycle's measurement, then last cycle's
		// cached value (stable default-name first, display name fallback).
		if sp, ok := speeds[port.Name]; ok {
			port.Speed = sp
		} else if prev := target.Device.DeviceData.PortByDefaultName(port.DefaultName, port.Name); prev != nil {
			port.Speed = prev.Speed
		}
		data.Ports = append(data.Ports, port)

		result.Interfaces = append(result.Interfaces, models.InterfaceObservation{
			Name:       port.Name,
			Type:       m["type"],
			OperStatus: port.Status,
			Speed:      port.Speed,
			MACAddress: port.MACAddress,
			Source:     "routeros",
		})
	}

	result.Addresses = p.collectAddresses(client)
	return result, nil
}

// monitorSpeeds samples the live link speed of every ethernet interface.
// Failures on individual interfaces are skipped; a partial map is fine.
func (p *RouterOSProber) monitorSpeeds(client *routeros.Client) map[string]string {
	speeds := make(map[string]string)

	eth, err := client.Run("/interface/ethernet/print")
	if err != nil {
		p.logger.Debug("ethernet enumeration failed", zap.Error(err))
		return speeds
	}
	for _, re := range eth.Re {
		name := re.Map["name"]
		if name == "" {
			continue
		}
		mon, err := client.Run("/interface/ethernet/monitor", "=numbers="+name, "=once=")
		if err != nil || len(mon.Re) == 0 {
			continue
		}
		m := mon.Re[0].Map
		speed := m["speed"]
		if speed == "" {
			speed = m["rate"]
		}
		if speed != "" {
			speeds[name] = speed
		}
	}
	return speeds
}

// collectAddresses reads the address table for IPAM reconciliation.
func (p *RouterOSProber) collectAddresses(client *routeros.Client) []models.AddressObservation {
	reply, err := client.Run("/ip/address/print")
	if err != nil {
		p.logger.Debug("address enumeration failed", zap.Error(err))
		return nil
	}

	var out []models.AddressObservation
	for _, re := range reply.Re {
		m := re.Map
		ip, prefix := splitCIDR(m["address"])
		if ip == "" {
			continue
		}
		out = append(out, models.AddressObservation{
			IP:            ip,
			Prefix:        prefix,
			InterfaceName: m["interface"],
			Disabled:      isTruthy(m["disabled"]),
			Comment:       m["comment"],
		})
	}
	return out
}

// splitCIDR splits "10.0.0.1/24" into the address and prefix length.
// Prefix is 0 when absent or malformed.
func splitCIDR(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return s, 0
	}
	prefix, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return s[:idx], 0
	}
	return s[:idx], prefix
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
