package notify

import (
	"testing"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"08:00", 480, true},
		{"23:59", 1439, true},
		{" 12:30 ", 750, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"noon", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseClock(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseClock(%q) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 24, hour, minute, 0, 0, time.Local)
}

func defaultWindows() []models.ShiftWindow {
	return []models.ShiftWindow{
		{Shift: models.ShiftDay, Start: "08:00", End: "20:00"},
		{Shift: models.ShiftNight, Start: "20:00", End: "08:00"},
	}
}

func TestShiftAt(t *testing.T) {
	windows := defaultWindows()

	tests := []struct {
		t     time.Time
		day   bool
		night bool
	}{
		{at(8, 0), true, false},   // day start inclusive
		{at(12, 0), true, false},
		{at(19, 59), true, false},
		{at(20, 0), false, true},  // day end exclusive, night begins
		{at(23, 30), false, true},
		{at(3, 0), false, true},   // night crosses midnight
		{at(7, 59), false, true},
		{at(8, 0), true, false},
	}
	for _, tt := range tests {
		active := shiftAt(windows, tt.t)
		if active[models.ShiftDay] != tt.day || active[models.ShiftNight] != tt.night {
			t.Errorf("shiftAt(%s) = day:%v night:%v, want day:%v night:%v",
				tt.t.Format("15:04"), active[models.ShiftDay], active[models.ShiftNight], tt.day, tt.night)
		}
	}
}

func TestShiftAtSkipsMalformedWindows(t *testing.T) {
	windows := []models.ShiftWindow{{Shift: models.ShiftDay, Start: "bad", End: "20:00"}}
	if shiftAt(windows, at(12, 0))[models.ShiftDay] {
		t.Error("malformed window must not activate a shift")
	}
}

func TestOnDuty(t *testing.T) {
	alice := &models.NotifyUser{ID: "a", Name: "alice", Shift: models.ShiftDay}
	bob := &models.NotifyUser{ID: "b", Name: "bob", Shift: models.ShiftNight}
	users := []*models.NotifyUser{alice, bob}

	day := onDuty(users, defaultWindows(), at(10, 0))
	if len(day) != 1 || day[0].ID != "a" {
		t.Errorf("day duty = %v, want alice", day)
	}
	night := onDuty(users, defaultWindows(), at(2, 0))
	if len(night) != 1 || night[0].ID != "b" {
		t.Errorf("night duty = %v, want bob", night)
	}
}

func TestUserMuteActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		u    models.NotifyUser
		want bool
	}{
		{"unmuted", models.NotifyUser{}, false},
		{"indefinite", models.NotifyUser{Muted: true}, true},
		{"until future", models.NotifyUser{Muted: true, MutedUntil: &future}, true},
		{"expired", models.NotifyUser{Muted: true, MutedUntil: &past}, false},
	}
	for _, tt := range tests {
		if got := tt.u.MuteActive(now); got != tt.want {
			t.Errorf("%s: MuteActive = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGlobalMuteActiveAt(t *testing.T) {
	now := time.Now()
	future := now.Add(30 * time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name string
		m    models.GlobalMute
		want bool
	}{
		{"inactive", models.GlobalMute{}, false},
		{"indefinite", models.GlobalMute{Active: true}, true},
		{"unexpired", models.GlobalMute{Active: true, Until: &future}, true},
		{"expired", models.GlobalMute{Active: true, Until: &past}, false},
	}
	for _, tt := range tests {
		if got := tt.m.ActiveAt(now); got != tt.want {
			t.Errorf("%s: ActiveAt = %v, want %v", tt.name, got, tt.want)
		}
	}
}
