package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"
)

const (
	oidIfHCInOctets  = "1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOutOctets = "1.3.6.1.2.1.31.1.1.1.10"
	oidIfInOctets    = "1.3.6.1.2.1.2.2.1.10"
	oidIfOutOctets   = "1.3.6.1.2.1.2.2.1.16"
)

// CounterSample is one raw octet-counter reading with its wall-clock time.
// Rate math happens downstream in the history ingestor.
type CounterSample struct {
	InOctets  uint64
	OutOctets uint64
	SixtyFour bool // true when read from the HC counters
	At        time.Time
}

// TrafficProber reads interface octet counters for monitored connections.
type TrafficProber struct {
	snmp   *SNMPProber
	logger *zap.Logger
}

// NewTrafficProber creates the counter probe.
func NewTrafficProber(snmp *SNMPProber, logger *zap.Logger) *TrafficProber {
	return &TrafficProber{snmp: snmp, logger: logger}
}

// Sample resolves the interface by name and reads its octet counters,
// preferring the 64-bit HC pair with a 32-bit fallback.
func (p *TrafficProber) Sample(ctx context.Context, ip string, cred *models.SNMPCredentials, ifaceName string) (*CounterSample, error) {
	if cred == nil {
		return nil, errors.New("traffic probe: snmp credentials required")
	}
	sess, err := p.snmp.connect(ctx, ip, cred)
	if err != nil {
		return nil, fmt.Errorf("traffic connect %s: %w", ip, err)
	}
	defer sess.close()
	g := sess.g

	ifIndex, err := findIfIndex(g, ifaceName)
	if err != nil {
		return nil, err
	}

	at := time.Now().UTC()

	in, out, ok := getCounterPair(g, oidIfHCInOctets, oidIfHCOutOctets, ifIndex)
	if ok {
		return &CounterSample{InOctets: in, OutOctets: out, SixtyFour: true, At: at}, nil
	}
	in, out, ok = getCounterPair(g, oidIfInOctets, oidIfOutOctets, ifIndex)
	if ok {
		return &CounterSample{InOctets: in, OutOctets: out, At: at}, nil
	}
	return nil, fmt.Errorf("no octet counters for %s ifIndex %d", ip, ifIndex)
}

// findIfIndex walks ifDescr and matches the configured name. Matching is
// case-insensitive and substring-tolerant in both directions, because the
// operator may type "eth0" against a device reporting "Ethernet0 (eth0)".
func findIfIndex(g *gosnmp.GoSNMP, name string) (int, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	found := -1
	err := g.BulkWalk(oidIfDescr, func(pdu gosnmp.SnmpPDU) error {
		if found >= 0 {
			return nil
		}
		descr := strings.ToLower(pduString(pdu))
		if descr == "" {
			return nil
		}
		if strings.Contains(descr, want) || strings.Contains(want, descr) {
			found = oidIndex(strings.TrimPrefix(pdu.Name, "."))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk ifDescr: %w", err)
	}
	if found < 0 {
		return 0, fmt.Errorf("interface %q not found", name)
	}
	return found, nil
}

// getCounterPair reads one in/out counter pair for the index. Both values
// must be present and of a counter type for the pair to count.
func getCounterPair(g *gosnmp.GoSNMP, inOID, outOID string, ifIndex int) (uint64, uint64, bool) {
	suffix := fmt.Sprintf(".%d", ifIndex)
	pkt, err := g.Get([]string{inOID + suffix, outOID + suffix})
	if err != nil || len(pkt.Variables) < 2 {
		return 0, 0, false
	}

	var in, out uint64
	var inOK, outOK bool
	for _, pdu := range pkt.Variables {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
			continue
		}
		name := strings.TrimPrefix(pdu.Name, ".")
		switch {
		case strings.HasPrefix(name, inOID):
			in, inOK = pduUint64(pdu), true
		case strings.HasPrefix(name, outOID):
			out, outOK = pduUint64(pdu), true
		}
	}
	return in, out, inOK && outOK
}
