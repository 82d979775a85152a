package repository

import (
	"context"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// ApiKeyRepository abstrae la persistencia de credenciales de API derivadas.
type ApiKeyRepository interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.ApiKey, error)
	Insert(ctx context.Context, key *entity.ApiKey) (string, error)
	Deactivate(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string) error
}
