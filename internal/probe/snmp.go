package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"
)

// Standard OIDs used by the SNMP adapter.
const (
	oidSysDescr  = "1.3.6.1.2.1.1.1.0"
	oidSysUpTime = "1.3.6.1.2.1.1.3.0"
	oidSysName   = "1.3.6.1.2.1.1.5.0"

	oidHrProcessorLoad = "1.3.6.1.2.1.25.3.3.1.2"

	oidHrStorageTable = "1.3.6.1.2.1.25.2.3.1"
	oidHrStorageType  = "1.3.6.1.2.1.25.2.3.1.2"
	oidHrStorageUnits = "1.3.6.1.2.1.25.2.3.1.4"
	oidHrStorageSize  = "1.3.6.1.2.1.25.2.3.1.5"
	oidHrStorageUsed  = "1.3.6.1.2.1.25.2.3.1.6"

	storageTypeRAM       = "1.3.6.1.2.1.25.2.1.2"
	storageTypeFixedDisk = "1.3.6.1.2.1.25.2.1.4"

	oidIfDescr       = "1.3.6.1.2.1.2.2.1.2"
	oidIfSpeed       = "1.3.6.1.2.1.2.2.1.5"
	oidIfPhysAddress = "1.3.6.1.2.1.2.2.1.6"
)

const (
	snmpTimeout  = 4 * time.Second
	snmpRetries  = 0
	maxSNMPPorts = 10
)

// SNMPProber probes generic SNMP devices, access points, and servers that
// expose SNMP.
type SNMPProber struct {
	logger *zap.Logger
}

// NewSNMPProber creates the SNMP adapter.
func NewSNMPProber(logger *zap.Logger) *SNMPProber {
	return &SNMPProber{logger: logger}
}

// session wraps a connected GoSNMP client with an idempotent close. The
// worker may abandon a probe on deadline while the adapter is still in
// flight, so close must be safe to call twice.
type session struct {
	g      *gosnmp.GoSNMP
	closed sync.Once
}

func (s *session) close() {
	s.closed.Do(func() {
		if s.g.Conn != nil {
			_ = s.g.Conn.Close()
		}
	})
}

// Probe fetches system info, CPU load, memory/disk utilization, and the
// first interfaces from the device.
func (p *SNMPProber) Probe(ctx context.Context, target Target) (*Result, error) {
	if target.Credentials == nil || target.Credentials.SNMP == nil {
		return nil, errors.New("snmp probe: snmp credentials required")
	}

	sess, err := p.connect(ctx, target.Device.IPAddress, target.Credentials.SNMP)
	if err != nil {
		p.logger.Debug("snmp connect failed",
			zap.String("ip", target.Device.IPAddress), zap.Error(err))
		return &Result{Success: false}, nil
	}
	defer sess.close()
	g := sess.g

	data := &models.DeviceData{}

	system, err := g.Get([]string{oidSysDescr, oidSysUpTime, oidSysName})
	if err != nil {
		return &Result{Success: false}, nil
	}
	for _, pdu := range system.Variables {
		switch strings.TrimPrefix(pdu.Name, ".") {
		case oidSysDescr:
			data.Model = pduString(pdu)
		case oidSysName:
			data.Identity = pduString(pdu)
		case oidSysUpTime:
			if ticks := pduUint64(pdu); ticks > 0 {
				d := time.Duration(ticks) * 10 * time.Millisecond
				data.Uptime = fmtUptime(d)
				data.UptimeSeconds = i64ptr(int64(d / time.Second))
			}
		}
	}

	// CPU: average of all hrProcessorLoad entries in [0,100].
	if avg, ok := p.cpuLoad(g); ok {
		data.CPUUsagePct = f64ptr(avg)
	}

	// Memory and disk from the storage table. Missing entries are not an
	// error; plenty of devices ship a partial HOST-RESOURCES-MIB.
	memPct, diskPct := p.storageUsage(g)
	data.MemoryUsagePct = memPct
	data.DiskUsagePct = diskPct

	result := &Result{Success: true, Data: data}
	result.Interfaces = p.interfaces(g)
	for _, iface := range result.Interfaces {
		data.Ports = append(data.Ports, models.Port{
			Name:       iface.Name,
			Speed:      iface.Speed,
			MACAddress: iface.MACAddress,
			Status:     iface.OperStatus,
		})
	}
	return result, nil
}

// connect configures and opens a session per the credential version.
// v3 is authPriv only: MD5/SHA auth with DES/AES privacy.
func (p *SNMPProber) connect(ctx context.Context, ip string, cred *models.SNMPCredentials) (*session, error) {
	port := cred.Port
	if port == 0 {
		port = 161
	}

	g := &gosnmp.GoSNMP{
		Target:  ip,
		Port:    uint16(port),
		Timeout: snmpTimeout,
		Retries: snmpRetries,
		Context: ctx,
	}

	switch cred.Version {
	case "v1":
		g.Version = gosnmp.Version1
		g.Community = cred.Community
	case "v2c", "":
		g.Version = gosnmp.Version2c
		g.Community = cred.Community
	case "v3":
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		g.MsgFlags = gosnmp.AuthPriv
		g.SecurityParameters = &gosnmp.UsmSecurityParameters{
			UserName:                 cred.Username,
			AuthenticationProtocol:   mapAuthProtocol(cred.AuthProtocol),
			AuthenticationPassphrase: cred.AuthPassword,
			PrivacyProtocol:          mapPrivProtocol(cred.PrivProtocol),
			PrivacyPassphrase:        cred.PrivPassword,
		}
	default:
		return nil, fmt.Errorf("unsupported SNMP version %q", cred.Version)
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", ip, err)
	}
	return &session{g: g}, nil
}

func mapAuthProtocol(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(s) {
	case "MD5":
		return gosnmp.MD5
	default:
		return gosnmp.SHA
	}
}

func mapPrivProtocol(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(s) {
	case "DES":
		return gosnmp.DES
	default:
		return gosnmp.AES
	}
}

// cpuLoad walks hrProcessorTable and averages the per-core load values.
func (p *SNMPProber) cpuLoad(g *gosnmp.GoSNMP) (float64, bool) {
	var sum float64
	var n int
	err := g.BulkWalk(oidHrProcessorLoad, func(pdu gosnmp.SnmpPDU) error {
		v := float64(pduInt(pdu))
		if v >= 0 && v <= 100 {
			sum += v
			n++
		}
		return nil
	})
	if err != nil || n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// storageUsage walks hrStorageTable and derives memory and disk utilization
// from the first physical-memory and first fixed-disk entries.
func (p *SNMPProber) storageUsage(g *gosnmp.GoSNMP) (memPct, diskPct *float64) {
	type entry struct {
		typ  string
		size uint64
		used uint64
	}
	entries := make(map[int]*entry)

	err := g.BulkWalk(oidHrStorageTable, func(pdu gosnmp.SnmpPDU) error {
		name := strings.TrimPrefix(pdu.Name, ".")
		idx := oidIndex(name)
		if idx < 0 {
			return nil
		}
		e, ok := entries[idx]
		if !ok {
			e = &entry{}
			entries[idx] = e
		}
		switch {
		case strings.HasPrefix(name, oidHrStorageType+"."):
			e.typ = pduString(pdu)
		case strings.HasPrefix(name, oidHrStorageSize+"."):
			e.size = pduUint64(pdu)
		case strings.HasPrefix(name, oidHrStorageUsed+"."):
			e.used = pduUint64(pdu)
		}
		return nil
	})
	if err != nil {
		return nil, nil
	}

	indices := make([]int, 0, len(entries))
	for idx := range entries {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	// First matching entry of each storage type wins.
	pct := func(typ string) *float64 {
		for _, idx := range indices {
			e := entries[idx]
			if strings.Contains(e.typ, typ) && e.size > 0 {
				v := float64(e.used) / float64(e.size) * 100
				if math.IsInf(v, 0) || math.IsNaN(v) {
					return nil
				}
				return f64ptr(v)
			}
		}
		return nil
	}
	return pct(storageTypeRAM), pct(storageTypeFixedDisk)
}

// interfaces walks ifDescr, ifSpeed, and ifPhysAddress and returns up to
// the first maxSNMPPorts interfaces by ifIndex.
func (p *SNMPProber) interfaces(g *gosnmp.GoSNMP) []models.InterfaceObservation {
	type row struct {
		descr string
		speed uint64
		mac   string
	}
	rows := make(map[int]*row)

	get := func(idx int) *row {
		r, ok := rows[idx]
		if !ok {
			r = &row{}
			rows[idx] = r
		}
		return r
	}

	walk := func(oid string, apply func(*row, gosnmp.SnmpPDU)) {
		_ = g.BulkWalk(oid, func(pdu gosnmp.SnmpPDU) error {
			idx := oidIndex(strings.TrimPrefix(pdu.Name, "."))
			if idx >= 0 {
				apply(get(idx), pdu)
			}
			return nil
		})
	}
	walk(oidIfDescr, func(r *row, pdu gosnmp.SnmpPDU) { r.descr = pduString(pdu) })
	walk(oidIfSpeed, func(r *row, pdu gosnmp.SnmpPDU) { r.speed = pduUint64(pdu) })
	walk(oidIfPhysAddress, func(r *row, pdu gosnmp.SnmpPDU) {
		if b, ok := pdu.Value.([]byte); ok {
			r.mac = formatMAC(b)
		}
	})

	indices := make([]int, 0, len(rows))
	for idx := range rows {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var out []models.InterfaceObservation
	for _, idx := range indices {
		if len(out) >= maxSNMPPorts {
			break
		}
		r := rows[idx]
		if r.descr == "" {
			continue
		}
		out = append(out, models.InterfaceObservation{
			Name:       r.descr,
			Speed:      formatBps(r.speed),
			MACAddress: r.mac,
			Source:     "snmp",
		})
	}
	return out
}

// formatBps renders an interface speed in the largest fitting unit.
func formatBps(bps uint64) string {
	if bps == 0 {
		return ""
	}
	units := []struct {
		div  uint64
		name string
	}{
		{1e12, "Tbps"},
		{1e9, "Gbps"},
		{1e6, "Mbps"},
		{1e3, "Kbps"},
	}
	for _, u := range units {
		if bps >= u.div {
			return strconv.FormatFloat(float64(bps)/float64(u.div), 'f', -1, 64) + " " + u.name
		}
	}
	return strconv.FormatUint(bps, 10) + " bps"
}

func formatMAC(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

func pduInt(pdu gosnmp.SnmpPDU) int {
	switch v := pdu.Value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}

func pduUint64(pdu gosnmp.SnmpPDU) uint64 {
	switch v := pdu.Value.(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	case uint:
		return uint64(v)
	case int:
		if v >= 0 {
			return uint64(v)
		}
		return 0
	case int64:
		if v >= 0 {
			return uint64(v)
		}
		return 0
	default:
		return 0
	}
}

// oidIndex extracts the trailing numeric segment from an OID.
func oidIndex(oid string) int {
	lastDot := strings.LastIndex(oid, ".")
	if lastDot < 0 || lastDot == len(oid)-1 {
		return -1
	}
	idx, err := strconv.Atoi(oid[lastDot+1:])
	if err != nil {
		return -1
	}
	return idx
}
