// Package inventory owns the device registry: devices, credential profiles,
// discovered interfaces, and device status history.
package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDeviceNotFound is returned when a device ID or IP resolves to nothing.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrIncompatibleCredentials is returned when a profile's credential type
	// cannot serve the device's category.
	ErrIncompatibleCredentials = errors.New("credential type incompatible with device type")
)

// Store provides access to inventory tables.
type Store struct {
	store  plugin.Store
	vault  SecretVault
	logger *zap.Logger
}

// SecretVault is the slice of the credential vault the inventory needs.
type SecretVault interface {
	EncryptSecret(plaintext []byte) ([]byte, error)
	DecryptSecret(ciphertext []byte) ([]byte, error)
}

// NewStore creates the inventory store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store, vault SecretVault, logger *zap.Logger) (*Store, error) {
	s := &Store{store: st, vault: vault, logger: logger}
	if err := st.Migrate(ctx, "inventory", Migrations()); err != nil {
		return nil, fmt.Errorf("inventory migrations: %w", err)
	}
	return s, nil
}

// CreateDevice inserts a new device. Credential compatibility is checked when
// a profile reference is given.
func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DeviceStatusUnknown
	}
	if d.CredentialProfileID != "" {
		profile, err := s.GetProfile(ctx, d.CredentialProfileID)
		if err != nil {
			return err
		}
		if !profile.Type.CompatibleWith(d.Type) {
			return fmt.Errorf("%w: %s profile on %s device", ErrIncompatibleCredentials, profile.Type, d.Type)
		}
	}
	if d.CustomCredentials != nil && !d.CustomCredentials.Type.CompatibleWith(d.Type) {
		return fmt.Errorf("%w: %s credentials on %s device", ErrIncompatibleCredentials, d.CustomCredentials.Type, d.Type)
	}

	creds, err := marshalNullable(d.CustomCredentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	data, err := marshalNullable(d.DeviceData)
	if err != nil {
		return fmt.Errorf("encode device data: %w", err)
	}

	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO devices (id, name, type, ip_address, status, credential_profile_id, custom_credentials, device_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Name, string(d.Type), nullStr(d.IPAddress), string(d.Status),
		nullStr(d.CredentialProfileID), creds, data)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDevice returns one device by ID.
func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := s.store.DB().QueryRowContext(ctx, deviceSelect+" WHERE id = ?", id)
	return scanDevice(row)
}

// GetAllDevices returns every device, ordered by name.
func (s *Store) GetAllDevices(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.store.DB().QueryContext(ctx, deviceSelect+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDeviceByAnyIP resolves a device by its primary address or by any IPAM
// address assigned to it. Returns ErrDeviceNotFound when nothing matches.
func (s *Store) GetDeviceByAnyIP(ctx context.Context, ip string) (*models.Device, error) {
	row := s.store.DB().QueryRowContext(ctx, deviceSelect+" WHERE ip_address = ?", ip)
	d, err := scanDevice(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	row = s.store.DB().QueryRowContext(ctx, deviceSelect+` WHERE id = (
		SELECT a.device_id FROM ipam_assignments a
		JOIN ipam_addresses addr ON addr.id = a.address_id
		WHERE addr.ip_address = ?
		LIMIT 1
	)`, ip)
	return scanDevice(row)
}

// UpdateDeviceStatus sets the device's status and bumps updated_at.
func (s *Store) UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus) error {
	res, err := s.store.DB().ExecContext(ctx,
		"UPDATE devices SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateDeviceData replaces the device's probe snapshot. Passing nil clears
// it; callers preserving old data across failures simply do not call this.
func (s *Store) UpdateDeviceData(ctx context.Context, id string, data *models.DeviceData) error {
	raw, err := marshalNullable(data)
	if err != nil {
		return fmt.Errorf("encode device data: %w", err)
	}
	res, err := s.store.DB().ExecContext(ctx,
		"UPDATE devices SET device_data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		raw, id,
	)
	if err != nil {
		return fmt.Errorf("update device data: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// UpdateDevice rewrites the mutable device fields.
func (s *Store) UpdateDevice(ctx context.Context, d *models.Device) error {
	creds, err := marshalNullable(d.CustomCredentials)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE devices SET name = ?, type = ?, ip_address = ?, credential_profile_id = ?,
			custom_credentials = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, d.Name, string(d.Type), nullStr(d.IPAddress), nullStr(d.CredentialProfileID), creds, d.ID)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// DeleteDevice removes a device; dependent rows cascade.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

// ResolveCredentials returns the effective credentials for a device: custom
// credentials win, otherwise the referenced profile is loaded and decrypted.
// Returns (nil, nil) for devices that need none.
func (s *Store) ResolveCredentials(ctx context.Context, d *models.Device) (*models.Credentials, error) {
	if d.CustomCredentials != nil {
		return d.CustomCredentials, nil
	}
	if d.CredentialProfileID == "" {
		return nil, nil
	}
	profile, err := s.GetProfile(ctx, d.CredentialProfileID)
	if err != nil {
		return nil, err
	}
	return profile.Credentials, nil
}

const deviceSelect = `SELECT id, name, type, ip_address, status, credential_profile_id,
	custom_credentials, device_data, created_at, updated_at FROM devices`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d           models.Device
		typ, status string
		ip, prof    sql.NullString
		creds, data sql.NullString
	)
	err := row.Scan(&d.ID, &d.Name, &typ, &ip, &status, &prof, &creds, &data, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	d.Type = models.DeviceType(typ)
	d.Status = models.DeviceStatus(status)
	d.IPAddress = ip.String
	d.CredentialProfileID = prof.String
	if creds.Valid && creds.String != "" {
		d.CustomCredentials = &models.Credentials{}
		if err := json.Unmarshal([]byte(creds.String), d.CustomCredentials); err != nil {
			return nil, fmt.Errorf("decode credentials for %s: %w", d.ID, err)
		}
	}
	if data.Valid && data.String != "" {
		d.DeviceData = &models.DeviceData{}
		if err := json.Unmarshal([]byte(data.String), d.DeviceData); err != nil {
			return nil, fmt.Errorf("decode device data for %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

// marshalNullable encodes v as JSON, mapping typed nil pointers to SQL NULL.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
