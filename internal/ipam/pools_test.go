package ipam

import (
	"testing"

	"github.com/HerbHall/netatlas/pkg/models"
)

func TestFindPoolForIPCIDR(t *testing.T) {
	pool := &models.IpamPool{ID: "p1", EntryType: models.IpamEntryCIDR, CIDR: "192.168.1.0/30"}
	pools := []*models.IpamPool{pool}

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.0", false}, // network address
		{"192.168.1.1", true},
		{"192.168.1.2", true},
		{"192.168.1.3", false}, // broadcast
		{"192.168.2.1", false},
	}
	for _, tt := range tests {
		got := FindPoolForIP(tt.ip, pools)
		if (got != nil) != tt.want {
			t.Errorf("FindPoolForIP(%s) matched=%v, want %v", tt.ip, got != nil, tt.want)
		}
	}
}

func TestFindPoolForIPSmallPrefixes(t *testing.T) {
	p31 := &models.IpamPool{ID: "p31", EntryType: models.IpamEntryCIDR, CIDR: "10.0.0.0/31"}
	p32 := &models.IpamPool{ID: "p32", EntryType: models.IpamEntryCIDR, CIDR: "10.0.1.1/32"}

	// /31 point-to-point links use both addresses.
	if FindPoolForIP("10.0.0.0", []*models.IpamPool{p31}) == nil {
		t.Error("/31 should include its low address")
	}
	if FindPoolForIP("10.0.0.1", []*models.IpamPool{p31}) == nil {
		t.Error("/31 should include its high address")
	}
	if FindPoolForIP("10.0.1.1", []*models.IpamPool{p32}) == nil {
		t.Error("/32 should match its single address")
	}
	if FindPoolForIP("10.0.1.2", []*models.IpamPool{p32}) != nil {
		t.Error("/32 must not match neighbors")
	}
}

func TestFindPoolForIPRange(t *testing.T) {
	pool := &models.IpamPool{
		ID: "r1", EntryType: models.IpamEntryRange,
		RangeStart: "10.1.0.10", RangeEnd: "10.1.0.20",
	}
	pools := []*models.IpamPool{pool}

	for _, ip := range []string{"10.1.0.10", "10.1.0.15", "10.1.0.20"} {
		if FindPoolForIP(ip, pools) == nil {
			t.Errorf("%s should fall inside the range", ip)
		}
	}
	for _, ip := range []string{"10.1.0.9", "10.1.0.21", "10.0.0.15"} {
		if FindPoolForIP(ip, pools) != nil {
			t.Errorf("%s should fall outside the range", ip)
		}
	}
}

func TestFindPoolForIPSingle(t *testing.T) {
	viaSingle := &models.IpamPool{ID: "s1", EntryType: models.IpamEntrySingle, SingleIP: "172.16.0.5"}
	viaCIDR := &models.IpamPool{ID: "s2", EntryType: models.IpamEntrySingle, CIDR: "172.16.0.6"}

	if got := FindPoolForIP("172.16.0.5", []*models.IpamPool{viaSingle, viaCIDR}); got != viaSingle {
		t.Errorf("single-ip field match = %v", got)
	}
	if got := FindPoolForIP("172.16.0.6", []*models.IpamPool{viaSingle, viaCIDR}); got != viaCIDR {
		t.Errorf("cidr field match = %v", got)
	}
}

func TestFindPoolForIPFirstMatchWins(t *testing.T) {
	wide := &models.IpamPool{ID: "wide", EntryType: models.IpamEntryCIDR, CIDR: "10.0.0.0/8"}
	narrow := &models.IpamPool{ID: "narrow", EntryType: models.IpamEntryCIDR, CIDR: "10.2.0.0/24"}

	if got := FindPoolForIP("10.2.0.7", []*models.IpamPool{wide, narrow}); got != wide {
		t.Errorf("first match should win, got %v", got)
	}
	if got := FindPoolForIP("10.2.0.7", []*models.IpamPool{narrow, wide}); got != narrow {
		t.Errorf("first match should win, got %v", got)
	}
}

func TestFindPoolForIPBadInput(t *testing.T) {
	pools := []*models.IpamPool{
		{ID: "p", EntryType: models.IpamEntryCIDR, CIDR: "not-a-cidr"},
	}
	if FindPoolForIP("10.0.0.1", pools) != nil {
		t.Error("malformed pool CIDR must not match")
	}
	if FindPoolForIP("not-an-ip", pools) != nil {
		t.Error("malformed address must not match")
	}
	if FindPoolForIP("::1", pools) != nil {
		t.Error("IPv6 addresses are not pooled")
	}
}
