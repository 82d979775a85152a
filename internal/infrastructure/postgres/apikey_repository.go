package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// ApiKeyRepository es la implementación PostgreSQL de repository.ApiKeyRepository.
// También satisface reqauth.ApiKeyLookup directamente, sin adaptador adicional.
type ApiKeyRepository struct {
	pool *pgxpool.Pool
}

func NewApiKeyRepository(pool *pgxpool.Pool) *ApiKeyRepository {
	return &ApiKeyRepository{pool: pool}
}

func (r *ApiKeyRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.ApiKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, role, fingerprint, encrypted_secret, expires_at, last_used_at, active, master_key_ref, created_at
		FROM api_keys WHERE fingerprint = $1`, fingerprint)

	var k entity.ApiKey
	err := row.Scan(&k.ID, &k.Name, &k.Role, &k.Fingerprint, &k.EncryptedSecret, &k.ExpiresAt, &k.LastUsedAt,
		&k.Active, &k.MasterKeyRef, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// ausencia no es error: reqauth.Validate distingue "no encontrada" devolviendo nil.
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find api key by fingerprint", err)
	}
	return &k, nil
}

func (r *ApiKeyRepository) Insert(ctx context.Context, k *entity.ApiKey) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, name, role, fingerprint, encrypted_secret, expires_at, active, master_key_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		RETURNING id`,
		k.ID, k.Name, k.Role, k.Fingerprint, k.EncryptedSecret, k.ExpiresAt, k.Active, k.MasterKeyRef,
	).Scan(&id)
	if err != nil {
		return "", domain.NewUpstream("StorageFailure::Write", "insert api key", err)
	}
	return id, nil
}

func (r *ApiKeyRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET active = false WHERE id = $1`, id)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "deactivate api key", err)
	}
	return nil
}

func (r *ApiKeyRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "touch api key last used", err)
	}
	return nil
}
