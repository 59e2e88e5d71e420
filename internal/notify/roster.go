package notify

import (
	"strconv"
	"strings"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
)

// shiftAt returns which shifts cover the wall-clock time t in the process
// timezone. Windows whose start is after their end cross midnight.
func shiftAt(windows []models.ShiftWindow, t time.Time) map[models.Shift]bool {
	minutes := t.Hour()*60 + t.Minute()
	active := make(map[models.Shift]bool, len(windows))
	for _, w := range windows {
		start, okS := parseClock(w.Start)
		end, okE := parseClock(w.End)
		if !okS || !okE {
			continue
		}
		if start <= end {
			active[w.Shift] = minutes >= start && minutes < end
		} else {
			active[w.Shift] = minutes >= start || minutes < end
		}
	}
	return active
}

// onDuty filters users down to those whose shift window covers t.
func onDuty(users []*models.NotifyUser, windows []models.ShiftWindow, t time.Time) []*models.NotifyUser {
	active := shiftAt(windows, t)
	var out []*models.NotifyUser
	for _, u := range users {
		if active[u.Shift] {
			out = append(out, u)
		}
	}
	return out
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
