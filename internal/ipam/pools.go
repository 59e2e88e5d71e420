package ipam

import (
	"encoding/binary"
	"net"

	"github.com/HerbHall/netatlas/pkg/models"
)

// FindPoolForIP tests pools in order and returns the first one containing
// the address, or nil. CIDR pools exclude the network and broadcast
// addresses for prefixes up to /30; /31 and /32 admit every address in the
// mask range. Range pools compare by integer value; single-entry pools
// match against either the single-IP or CIDR field.
func FindPoolForIP(ip string, pools []*models.IpamPool) *models.IpamPool {
	addr := parseIPv4(ip)
	if addr == nil {
		return nil
	}
	v := ipToUint32(addr)

	for _, pool := range pools {
		switch pool.EntryType {
		case models.IpamEntryCIDR:
			if cidrContains(v, pool.CIDR) {
				return pool
			}
		case models.IpamEntryRange:
			start := parseIPv4(pool.RangeStart)
			end := parseIPv4(pool.RangeEnd)
			if start == nil || end == nil {
				continue
			}
			if v >= ipToUint32(start) && v <= ipToUint32(end) {
				return pool
			}
		case models.IpamEntrySingle:
			if pool.SingleIP == ip || pool.CIDR == ip {
				return pool
			}
		}
	}
	return nil
}

// cidrContains reports whether the address is a usable host address in the
// CIDR block.
func cidrContains(v uint32, cidr string) bool {
	_, block, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	base := block.IP.To4()
	if base == nil {
		return false
	}
	ones, bits := block.Mask.Size()
	if bits != 32 {
		return false
	}

	network := ipToUint32(base)
	broadcast := network | (^uint32(0) >> ones)
	if ones >= 31 {
		return v >= network && v <= broadcast
	}
	return v > network && v < broadcast
}

func parseIPv4(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	return ip.To4()
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}
