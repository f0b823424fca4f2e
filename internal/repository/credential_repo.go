package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/infofiscal/wsfe-harvester/internal/models"
	"go.uber.org/zap"
)

// CredentialRepository caches WSAA credentials per (service, cuit)
type CredentialRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sql.DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// Load returns the stored credential, or nil when none is cached
func (r *CredentialRepository) Load(ctx context.Context, service string, cuit int64) (*models.Credential, error) {
	query := `
		SELECT service, cuit, token, sign, generated_at, expires_at
		FROM credentials
		WHERE service = ? AND cuit = ?
	`

	var cred models.Credential
	err := r.db.QueryRowContext(ctx, query, service, cuit).Scan(
		&cred.Service,
		&cred.Cuit,
		&cred.Token,
		&cred.Sign,
		&cred.GeneratedAt,
		&cred.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load credential",
			zap.String("service", service),
			zap.Int64("cuit", cuit),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

// Save upserts the credential for its (service, cuit)
func (r *CredentialRepository) Save(ctx context.Context, cred models.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid credential: %w", err)
	}

	query := `
		INSERT INTO credentials (service, cuit, token, sign, generated_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service, cuit) DO UPDATE SET
			token = excluded.token,
			sign = excluded.sign,
			generated_at = excluded.generated_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		cred.Service,
		cred.Cuit,
		cred.Token,
		cred.Sign,
		cred.GeneratedAt.UTC(),
		cred.ExpiresAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to save credential",
			zap.String("service", cred.Service),
			zap.Int64("cuit", cred.Cuit),
			zap.Error(err))
		return fmt.Errorf("failed to save credential: %w", err)
	}

	r.logger.Debug("Credential stored",
		zap.String("service", cred.Service),
		zap.Time("expires_at", cred.ExpiresAt))
	return nil
}

// DeleteExpired removes credentials that expired before now
func (r *CredentialRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE expires_at < ?", now.UTC())
	if err != nil {
		r.logger.Error("Failed to delete expired credentials", zap.Error(err))
		return 0, fmt.Errorf("failed to delete expired credentials: %w", err)
	}
	return result.RowsAffected()
}
