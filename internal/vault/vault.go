package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/HerbHall/netatlas/pkg/plugin"
)

var (
	// ErrSealed is returned when secret operations are attempted before Unseal.
	ErrSealed = errors.New("vault is sealed")
	// ErrBadPassphrase is returned when the passphrase fails verification.
	ErrBadPassphrase = errors.New("incorrect vault passphrase")
)

// Vault manages the wrapped DEK and encrypts/decrypts credential secrets.
// The unwrapped DEK lives only in memory while the vault is unsealed.
type Vault struct {
	store plugin.Store

	mu  sync.RWMutex
	dek []byte // nil while sealed
}

// New creates a Vault over the shared store and ensures its meta table exists.
func New(ctx context.Context, store plugin.Store) (*Vault, error) {
	v := &Vault{store: store}
	if err := store.Migrate(ctx, "vault", migrations()); err != nil {
		return nil, fmt.Errorf("vault migrations: %w", err)
	}
	return v, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "vault meta (salt, wrapped DEK, verification blob)",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS vault_meta (
						id            INTEGER PRIMARY KEY CHECK (id = 1),
						salt          BLOB NOT NULL,
						wrapped_dek   BLOB NOT NULL,
						verification  BLOB NOT NULL,
						created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
		},
	}
}

// Unseal derives the KEK from the passphrase and unwraps the DEK. On first
// run it initializes the vault (new salt, new DEK, verification blob).
func (v *Vault) Unseal(ctx context.Context, passphrase string) error {
	var salt, wrapped, verification []byte
	err := v.store.DB().QueryRowContext(ctx,
		"SELECT salt, wrapped_dek, verification FROM vault_meta WHERE id = 1",
	).Scan(&salt, &wrapped, &verification)

	if err == sql.ErrNoRows {
		return v.initialize(ctx, passphrase)
	}
	if err != nil {
		return fmt.Errorf("load vault meta: %w", err)
	}

	kek := DeriveKEK(passphrase, salt)
	defer ZeroBytes(kek)

	if !VerifyKEK(kek, verification) {
		return ErrBadPassphrase
	}

	dek, err := UnwrapDEK(kek, wrapped)
	if err != nil {
		return fmt.Errorf("unwrap DEK: %w", err)
	}

	v.mu.Lock()
	v.dek = dek
	v.mu.Unlock()
	return nil
}

func (v *Vault) initialize(ctx context.Context, passphrase string) error {
	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	dek, err := GenerateDEK()
	if err != nil {
		return err
	}

	kek := DeriveKEK(passphrase, salt)
	defer ZeroBytes(kek)

	wrapped, err := WrapDEK(kek, dek)
	if err != nil {
		return fmt.Errorf("wrap DEK: %w", err)
	}
	verification, err := CreateVerificationBlob(kek)
	if err != nil {
		return fmt.Errorf("create verification blob: %w", err)
	}

	_, err = v.store.DB().ExecContext(ctx,
		"INSERT INTO vault_meta (id, salt, wrapped_dek, verification) VALUES (1, ?, ?, ?)",
		salt, wrapped, verification,
	)
	if err != nil {
		return fmt.Errorf("store vault meta: %w", err)
	}

	v.mu.Lock()
	v.dek = dek
	v.mu.Unlock()
	return nil
}

// Seal zeroes and discards the in-memory DEK.
func (v *Vault) Seal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	ZeroBytes(v.dek)
	v.dek = nil
}

// EncryptSecret encrypts a credential secret blob.
func (v *Vault) EncryptSecret(plaintext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return nil, ErrSealed
	}
	return Encrypt(v.dek, plaintext)
}

// DecryptSecret decrypts a credential secret blob.
func (v *Vault) DecryptSecret(ciphertext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return nil, ErrSealed
	}
	return Decrypt(v.dek, ciphertext)
}
