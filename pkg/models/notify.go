package models

import "time"

// NotificationMethod is how a rendered message reaches the webhook.
type NotificationMethod string

const (
	NotifyGET  NotificationMethod = "GET"  // message URL-encoded onto the URL
	NotifyPOST NotificationMethod = "POST" // message as text/plain body
)

// Notification is one outbound webhook definition. Devices opt in through
// subscriptions.
type Notification struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Enabled         bool               `json:"enabled"`
	URL             string             `json:"url"`
	Method          NotificationMethod `json:"method"`
	MessageTemplate string             `json:"message_template"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Subscription ties a device to a notification.
type Subscription struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	NotificationID string    `json:"notification_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Shift names a duty window in the roster.
type Shift string

const (
	ShiftDay   Shift = "day"
	ShiftNight Shift = "night"
)

// ShiftWindow is the wall-clock span of one shift, "HH:MM" in the process
// timezone. A window may cross midnight (start > end).
type ShiftWindow struct {
	Shift Shift  `json:"shift"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// NotifyUser is a notification recipient with a shift assignment and an
// optional personal alarm mute.
type NotifyUser struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Shift      Shift      `json:"shift"`
	Muted      bool       `json:"muted"`
	MutedUntil *time.Time `json:"muted_until,omitempty"` // nil while muted means indefinite
	CreatedAt  time.Time  `json:"created_at"`
}

// MuteActive reports whether the user's mute applies at t.
func (u *NotifyUser) MuteActive(t time.Time) bool {
	if !u.Muted {
		return false
	}
	return u.MutedUntil == nil || u.MutedUntil.After(t)
}

// GlobalMute silences all notification dispatch. At most one exists,
// stored under a settings key.
type GlobalMute struct {
	Active bool       `json:"active"`
	Until  *time.Time `json:"until,omitempty"` // nil means indefinite
}

// ActiveAt reports whether the global mute applies at t.
func (m *GlobalMute) ActiveAt(t time.Time) bool {
	if m == nil || !m.Active {
		return false
	}
	return m.Until == nil || m.Until.After(t)
}
