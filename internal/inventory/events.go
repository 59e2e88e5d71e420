package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/google/uuid"
)

// AppendStatusEvent records one status transition for a device.
func (s *Store) AppendStatusEvent(ctx context.Context, deviceID string, prev, next models.DeviceStatus) (*models.DeviceStatusEvent, error) {
	ev := &models.DeviceStatusEvent{
		ID:             uuid.NewString(),
		DeviceID:       deviceID,
		PreviousStatus: prev,
		NewStatus:      next,
		CreatedAt:      time.Now().UTC(),
	}
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO device_status_events (id, device_id, previous_status, new_status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.DeviceID, nullStr(string(ev.PreviousStatus)), string(ev.NewStatus), ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert status event: %w", err)
	}
	return ev, nil
}

// StatusEventsSince returns a device's transitions at or after since,
// oldest first.
func (s *Store) StatusEventsSince(ctx context.Context, deviceID string, since time.Time) ([]*models.DeviceStatusEvent, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, device_id, previous_status, new_status, created_at
		FROM device_status_events
		WHERE device_id = ? AND created_at >= ?
		ORDER BY created_at
	`, deviceID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query status events: %w", err)
	}
	defer rows.Close()
	return scanStatusEvents(rows)
}

// StatusBucket aggregates transitions for one device within a time bucket.
type StatusBucket struct {
	BucketStart time.Time           `json:"bucket_start"`
	Transitions int                 `json:"transitions"`
	WentOffline int                 `json:"went_offline"`
	LastStatus  models.DeviceStatus `json:"last_status"`
}

// StatusBucketsSince summarizes a device's transitions since the given time
// into fixed-width buckets (e.g. hourly), oldest first.
func (s *Store) StatusBucketsSince(ctx context.Context, deviceID string, since time.Time, width time.Duration) ([]StatusBucket, error) {
	events, err := s.StatusEventsSince(ctx, deviceID, since)
	if err != nil {
		return nil, err
	}
	if width <= 0 {
		width = time.Hour
	}

	var buckets []StatusBucket
	for _, ev := range events {
		start := ev.CreatedAt.Truncate(width)
		if len(buckets) == 0 || !buckets[len(buckets)-1].BucketStart.Equal(start) {
			buckets = append(buckets, StatusBucket{BucketStart: start})
		}
		b := &buckets[len(buckets)-1]
		b.Transitions++
		if ev.NewStatus == models.DeviceStatusOffline {
			b.WentOffline++
		}
		b.LastStatus = ev.NewStatus
	}
	return buckets, nil
}

// StatusSegment is a contiguous span during which a device held one status.
type StatusSegment struct {
	Status models.DeviceStatus `json:"status"`
	From   time.Time           `json:"from"`
	To     time.Time           `json:"to"` // zero for the still-open segment
}

// StatusSegmentsSince reconstructs the device's status timeline since the
// given time. The first segment begins at since with the status the device
// held entering the window; the final segment has a zero To.
func (s *Store) StatusSegmentsSince(ctx context.Context, deviceID string, since time.Time) ([]StatusSegment, error) {
	// Status entering the window is the newest transition before it.
	var entering models.DeviceStatus = models.DeviceStatusUnknown
	var prev string
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT new_status FROM device_status_events
		WHERE device_id = ? AND created_at < ?
		ORDER BY created_at DESC LIMIT 1
	`, deviceID, since.UTC()).Scan(&prev)
	if err == nil {
		entering = models.DeviceStatus(prev)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query entering status: %w", err)
	}

	events, err := s.StatusEventsSince(ctx, deviceID, since)
	if err != nil {
		return nil, err
	}

	segments := []StatusSegment{{Status: entering, From: since.UTC()}}
	for _, ev := range events {
		segments[len(segments)-1].To = ev.CreatedAt
		segments = append(segments, StatusSegment{Status: ev.NewStatus, From: ev.CreatedAt})
	}
	return segments, nil
}

// PruneStatusEvents deletes transitions older than the horizon. Returns the
// number of rows removed.
func (s *Store) PruneStatusEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.store.DB().ExecContext(ctx,
		"DELETE FROM device_status_events WHERE created_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune status events: %w", err)
	}
	return res.RowsAffected()
}

func scanStatusEvents(rows *sql.Rows) ([]*models.DeviceStatusEvent, error) {
	var out []*models.DeviceStatusEvent
	for rows.Next() {
		var (
			ev         models.DeviceStatusEvent
			prev       sql.NullString
			next       string
		)
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &prev, &next, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		ev.PreviousStatus = models.DeviceStatus(prev.String)
		ev.NewStatus = models.DeviceStatus(next)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
