package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
)

// RequestSignatureRepository es la implementación PostgreSQL de
// repository.RequestSignatureRepository y satisface reqauth.ReplayStore directamente.
// Depende de una restricción única en (signature_digest, request_timestamp) para que
// la detección de repetición sea una sola escritura atómica, sin necesidad de un
// SELECT previo que dejaría una ventana de carrera entre dos peticiones concurrentes
// con la misma firma.
type RequestSignatureRepository struct {
	pool *pgxpool.Pool
}

func NewRequestSignatureRepository(pool *pgxpool.Pool) *RequestSignatureRepository {
	return &RequestSignatureRepository{pool: pool}
}

func (r *RequestSignatureRepository) InsertIfAbsent(ctx context.Context, signatureDigest, apiKeyID, method, path string, ts time.Time) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO request_signatures (id, api_key_id, signature_digest, method, path, request_timestamp)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), apiKeyID, signatureDigest, method, path, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, domain.NewUpstream("StorageFailure::Write", "insert request signature", err)
	}
	return true, nil
}
