package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HerbHall/netatlas/internal/event"
	"github.com/HerbHall/netatlas/internal/inventory"
	"github.com/HerbHall/netatlas/internal/settings"
	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Module listens for status-change events and fires webhook deliveries.
type Module struct {
	logger  *zap.Logger
	store   *Store
	devices *inventory.Store
	setting *settings.Store

	client  *http.Client
	limiter *rate.Limiter

	unsubscribe func()
}

// NewModule wires the dispatcher.
func NewModule(store *Store, devices *inventory.Store, settingsStore *settings.Store) *Module {
	return &Module{
		store:   store,
		devices: devices,
		setting: settingsStore,
	}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "notify",
		Version:     "1.0.0",
		Description: "Webhook notification dispatch gated by duty roster and mutes",
		Roles:       []string{"alerting"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.client = &http.Client{Timeout: 10 * time.Second}
	// Deliveries are best-effort and bursty on flaps; cap the outbound rate
	// rather than queueing.
	m.limiter = rate.NewLimiter(rate.Limit(5), 10)

	m.unsubscribe = deps.Bus.Subscribe(event.TopicDeviceStatusChanged, func(ctx context.Context, ev plugin.Event) {
		change, ok := ev.Payload.(*models.DeviceStatusEvent)
		if !ok {
			m.logger.Warn("unexpected status event payload",
				zap.String("topic", ev.Topic), zap.String("source", ev.Source))
			return
		}
		m.Dispatch(ctx, change)
	})
	return nil
}

// Start implements plugin.Plugin.
func (m *Module) Start(ctx context.Context) error { return nil }

// Stop implements plugin.Plugin.
func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return nil
}

// Dispatch delivers one status change to every enabled subscription of the
// device, unless a mute or the duty roster suppresses it. Deliveries are
// best-effort: failures are logged and never retried.
func (m *Module) Dispatch(ctx context.Context, ev *models.DeviceStatusEvent) {
	now := time.Now()
	if m.suppressed(ctx, now) {
		m.logger.Debug("notification suppressed", zap.String("device", ev.DeviceID))
		return
	}

	device, err := m.devices.GetDevice(ctx, ev.DeviceID)
	if err != nil {
		m.logger.Warn("device lookup for notification failed",
			zap.String("device", ev.DeviceID), zap.Error(err))
		return
	}

	notifs, err := m.store.NotificationsForDevice(ctx, ev.DeviceID)
	if err != nil {
		m.logger.Warn("subscription lookup failed",
			zap.String("device", ev.DeviceID), zap.Error(err))
		return
	}

	for _, n := range notifs {
		message := renderTemplate(n.MessageTemplate, device, ev)
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.deliver(ctx, n, message)
	}
}

// suppressed checks the global mute and the duty roster. With recipients
// configured, dispatch goes ahead only if someone is on duty and unmuted;
// with no recipients configured the roster does not gate anything.
func (m *Module) suppressed(ctx context.Context, now time.Time) bool {
	var mute models.GlobalMute
	err := m.setting.Get(ctx, settings.KeyGlobalAlarmMute, &mute)
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		m.logger.Warn("global mute lookup failed", zap.Error(err))
	}
	if mute.ActiveAt(now) {
		return true
	}

	users, err := m.store.ListUsers(ctx)
	if err != nil {
		m.logger.Warn("roster lookup failed", zap.Error(err))
		return false
	}
	if len(users) == 0 {
		return false
	}

	windows, err := m.store.ShiftWindows(ctx)
	if err != nil {
		m.logger.Warn("shift window lookup failed", zap.Error(err))
		return false
	}
	for _, u := range onDuty(users, windows, now) {
		if !u.MuteActive(now) {
			return false
		}
	}
	return true
}

// deliver sends one rendered message. GET appends the URL-encoded message
// to the configured URL, which by convention ends with "...=". POST sends
// it as a text/plain body.
func (m *Module) deliver(ctx context.Context, n *models.Notification, message string) {
	var req *http.Request
	var err error
	switch n.Method {
	case models.NotifyGET:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, n.URL+url.QueryEscape(message), nil)
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, n.URL, strings.NewReader(message))
		if err == nil {
			req.Header.Set("Content-Type", "text/plain")
		}
	}
	if err != nil {
		m.logger.Warn("building notification request failed",
			zap.String("notification", n.Name), zap.Error(err))
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("notification delivery failed",
			zap.String("notification", n.Name), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("notification endpoint returned non-2xx",
			zap.String("notification", n.Name),
			zap.Int("status", resp.StatusCode),
		)
	}
}
