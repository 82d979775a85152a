package repository

import (
	"context"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// IssuerRepository abstrae la persistencia de emisores y sus credenciales DIAN.
type IssuerRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Issuer, error)
	FindByIDNumber(ctx context.Context, idNumber string) (*entity.Issuer, error)
	Upsert(ctx context.Context, issuer *entity.Issuer) (string, error)
}
