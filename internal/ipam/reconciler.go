package ipam

import (
	"context"
	"time"

	"github.com/HerbHall/netatlas/internal/event"
	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

// Reconciler folds interface-address observations from probes into the
// address inventory.
type Reconciler struct {
	store  *Store
	bus    plugin.EventBus
	logger *zap.Logger
}

// NewReconciler wires the reconciler.
func NewReconciler(store *Store, bus plugin.EventBus, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, bus: bus, logger: logger}
}

// Sync processes one device's address observations. Each address is pooled,
// upserted, and assigned; discovered addresses missing from this sweep go
// offline. Individual bad observations are skipped, not fatal.
func (r *Reconciler) Sync(ctx context.Context, deviceID string, obs []models.AddressObservation) (*models.IpamSyncResult, error) {
	syncStart := time.Now().UTC()
	result := &models.IpamSyncResult{DeviceID: deviceID}

	pools, err := r.store.ListPools(ctx)
	if err != nil {
		return nil, err
	}

	for _, o := range obs {
		if o.Disabled || o.IP == "" {
			continue
		}

		var poolID string
		if pool := FindPoolForIP(o.IP, pools); pool != nil {
			poolID = pool.ID
			result.PoolsMatched++
		} else {
			result.PoolsUnmatched++
		}

		addrID, created, err := r.store.UpsertObserved(ctx, o.IP, o.Prefix, poolID, o.InterfaceName, o.Comment, syncStart)
		if err != nil {
			r.logger.Warn("address upsert failed",
				zap.String("ip", o.IP), zap.String("device", deviceID), zap.Error(err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}

		if err := r.store.EnsureAssignment(ctx, addrID, deviceID); err != nil {
			r.logger.Warn("assignment failed",
				zap.String("ip", o.IP), zap.String("device", deviceID), zap.Error(err))
		}
	}

	stale, err := r.store.MarkStaleOffline(ctx, deviceID, syncStart)
	if err != nil {
		r.logger.Warn("stale address sweep failed",
			zap.String("device", deviceID), zap.Error(err))
	}
	result.MarkedOffline = int(stale)

	r.bus.PublishAsync(ctx, plugin.Event{
		Topic:     event.TopicIpamSynced,
		Source:    "ipam",
		Timestamp: time.Now().UTC(),
		Payload:   result,
	})
	return result, nil
}
