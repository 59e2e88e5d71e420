package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/google/uuid"
)

// ErrProfileNotFound is returned when a credential profile ID resolves to nothing.
var ErrProfileNotFound = errors.New("credential profile not found")

// CreateProfile stores a new credential profile. The credential payload is
// encrypted with the vault DEK before it touches disk.
func (s *Store) CreateProfile(ctx context.Context, p *models.CredentialProfile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Credentials == nil || p.Credentials.Type != p.Type {
		return fmt.Errorf("profile %q: credentials missing or type mismatch", p.Name)
	}

	plain, err := json.Marshal(p.Credentials)
	if err != nil {
		return fmt.Errorf("encode profile credentials: %w", err)
	}
	secret, err := s.vault.EncryptSecret(plain)
	if err != nil {
		return fmt.Errorf("encrypt profile credentials: %w", err)
	}

	_, err = s.store.DB().ExecContext(ctx,
		"INSERT INTO credential_profiles (id, name, type, secret) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, string(p.Type), secret,
	)
	if err != nil {
		return fmt.Errorf("insert credential profile: %w", err)
	}
	return nil
}

// GetProfile loads and decrypts one credential profile.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.CredentialProfile, error) {
	var (
		p      models.CredentialProfile
		typ    string
		secret []byte
	)
	err := s.store.DB().QueryRowContext(ctx,
		"SELECT id, name, type, secret FROM credential_profiles WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &typ, &secret)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential profile: %w", err)
	}
	p.Type = models.CredentialType(typ)

	plain, err := s.vault.DecryptSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt profile %s: %w", p.ID, err)
	}
	p.Credentials = &models.Credentials{}
	if err := json.Unmarshal(plain, p.Credentials); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", p.ID, err)
	}
	return &p, nil
}

// ListProfiles returns profile metadata without decrypting secrets.
func (s *Store) ListProfiles(ctx context.Context) ([]*models.CredentialProfile, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		"SELECT id, name, type FROM credential_profiles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query credential profiles: %w", err)
	}
	defer rows.Close()

	var out []*models.CredentialProfile
	for rows.Next() {
		var (
			p   models.CredentialProfile
			typ string
		)
		if err := rows.Scan(&p.ID, &p.Name, &typ); err != nil {
			return nil, fmt.Errorf("scan credential profile: %w", err)
		}
		p.Type = models.CredentialType(typ)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SelectableProfiles returns the profiles whose credential type can serve the
// given device category.
func (s *Store) SelectableProfiles(ctx context.Context, dt models.DeviceType) ([]*models.CredentialProfile, error) {
	all, err := s.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Type.CompatibleWith(dt) {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeleteProfile removes a profile. Devices referencing it keep the dangling
// ID and fail credential resolution until repointed.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM credential_profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete credential profile: %w", err)
	}
	return nil
}
