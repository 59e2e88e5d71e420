// Package notify delivers webhook notifications on device status changes,
// gated by the duty roster and alarm mutes.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
)

// Store manages notifications, subscriptions, recipients, and the duty
// roster.
type Store struct {
	store plugin.Store
}

// NewStore creates the notify store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store) (*Store, error) {
	s := &Store{store: st}
	if err := st.Migrate(ctx, "notify", migrations()); err != nil {
		return nil, fmt.Errorf("notify migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "notifications, subscriptions, users, duty windows",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS notifications (
						id               TEXT PRIMARY KEY,
						name             TEXT NOT NULL,
						enabled          INTEGER NOT NULL DEFAULT 1,
						url              TEXT NOT NULL,
						method           TEXT NOT NULL DEFAULT 'POST',
						message_template TEXT NOT NULL DEFAULT '',
						created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS subscriptions (
						id              TEXT PRIMARY KEY,
						device_id       TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
						created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (device_id, notification_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_subscriptions_device ON subscriptions(device_id)`,
					`CREATE TABLE IF NOT EXISTS notify_users (
						id          TEXT PRIMARY KEY,
						name        TEXT NOT NULL,
						shift       TEXT NOT NULL DEFAULT 'day',
						muted       INTEGER NOT NULL DEFAULT 0,
						muted_until DATETIME,
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS duty_windows (
						shift      TEXT PRIMARY KEY,
						start_time TEXT NOT NULL,
						end_time   TEXT NOT NULL
					)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				// Default roster: day 08:00-20:00, night the complement.
				if _, err := tx.Exec(`INSERT OR IGNORE INTO duty_windows (shift, start_time, end_time)
					VALUES ('day', '08:00', '20:00'), ('night', '20:00', '08:00')`); err != nil {
					return err
				}
				return nil
			},
		},
	}
}

// CreateNotification inserts a webhook definition.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Method == "" {
		n.Method = models.NotifyPOST
	}
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO notifications (id, name, enabled, url, method, message_template)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.Name, boolInt(n.Enabled), n.URL, string(n.Method), n.MessageTemplate)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// UpdateNotification rewrites a webhook definition.
func (s *Store) UpdateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.store.DB().ExecContext(ctx, `
		UPDATE notifications SET name = ?, enabled = ?, url = ?, method = ?, message_template = ?
		WHERE id = ?
	`, n.Name, boolInt(n.Enabled), n.URL, string(n.Method), n.MessageTemplate, n.ID)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	return nil
}

// DeleteNotification removes a webhook and its subscriptions.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// ListNotifications returns all webhook definitions.
func (s *Store) ListNotifications(ctx context.Context) ([]*models.Notification, error) {
	rows, err := s.store.DB().QueryContext(ctx, notifSelect+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// Subscribe ties a device to a notification, idempotently.
func (s *Store) Subscribe(ctx context.Context, deviceID, notificationID string) error {
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO subscriptions (id, device_id, notification_id) VALUES (?, ?, ?)
		ON CONFLICT(device_id, notification_id) DO NOTHING
	`, uuid.NewString(), deviceID, notificationID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// Unsubscribe removes a device's tie to a notification.
func (s *Store) Unsubscribe(ctx context.Context, deviceID, notificationID string) error {
	_, err := s.store.DB().ExecContext(ctx,
		"DELETE FROM subscriptions WHERE device_id = ? AND notification_id = ?",
		deviceID, notificationID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// NotificationsForDevice returns the enabled notifications a device is
// subscribed to.
func (s *Store) NotificationsForDevice(ctx context.Context, deviceID string) ([]*models.Notification, error) {
	rows, err := s.store.DB().QueryContext(ctx, notifSelect+` WHERE enabled = 1 AND id IN (
		SELECT notification_id FROM subscriptions WHERE device_id = ?
	) ORDER BY created_at, id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device notifications: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// CreateUser inserts a recipient.
func (s *Store) CreateUser(ctx context.Context, u *models.NotifyUser) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Shift == "" {
		u.Shift = models.ShiftDay
	}
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO notify_users (id, name, shift, muted, muted_until)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Name, string(u.Shift), boolInt(u.Muted), nullTime(u.MutedUntil))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// SetUserMute sets or clears a user's alarm mute. A nil until with muted
// set means indefinite.
func (s *Store) SetUserMute(ctx context.Context, userID string, muted bool, until *time.Time) error {
	_, err := s.store.DB().ExecContext(ctx,
		"UPDATE notify_users SET muted = ?, muted_until = ? WHERE id = ?",
		boolInt(muted), nullTime(until), userID)
	if err != nil {
		return fmt.Errorf("set user mute: %w", err)
	}
	return nil
}

// DeleteUser removes a recipient.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM notify_users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListUsers returns all recipients.
func (s *Store) ListUsers(ctx context.Context) ([]*models.NotifyUser, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, name, shift, muted, muted_until, created_at
		FROM notify_users ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*models.NotifyUser
	for rows.Next() {
		var u models.NotifyUser
		var shift string
		var muted int
		var until sql.NullTime
		if err := rows.Scan(&u.ID, &u.Name, &shift, &muted, &until, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Shift = models.Shift(shift)
		u.Muted = muted != 0
		if until.Valid {
			t := until.Time
			u.MutedUntil = &t
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// SetShiftWindow defines the wall-clock span of one shift.
func (s *Store) SetShiftWindow(ctx context.Context, w models.ShiftWindow) error {
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO duty_windows (shift, start_time, end_time) VALUES (?, ?, ?)
		ON CONFLICT(shift) DO UPDATE SET start_time = excluded.start_time, end_time = excluded.end_time
	`, string(w.Shift), w.Start, w.End)
	if err != nil {
		return fmt.Errorf("set shift window: %w", err)
	}
	return nil
}

// ShiftWindows returns the roster's shift windows.
func (s *Store) ShiftWindows(ctx context.Context) ([]models.ShiftWindow, error) {
	rows, err := s.store.DB().QueryContext(ctx, "SELECT shift, start_time, end_time FROM duty_windows")
	if err != nil {
		return nil, fmt.Errorf("query shift windows: %w", err)
	}
	defer rows.Close()

	var out []models.ShiftWindow
	for rows.Next() {
		var w models.ShiftWindow
		var shift string
		if err := rows.Scan(&shift, &w.Start, &w.End); err != nil {
			return nil, fmt.Errorf("scan shift window: %w", err)
		}
		w.Shift = models.Shift(shift)
		out = append(out, w)
	}
	return out, rows.Err()
}

const notifSelect = `SELECT id, name, enabled, url, method, message_template, created_at
	FROM notifications`

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var enabled int
		var method string
		if err := rows.Scan(&n.ID, &n.Name, &enabled, &n.URL, &method,
			&n.MessageTemplate, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Enabled = enabled != 0
		n.Method = models.NotificationMethod(method)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
