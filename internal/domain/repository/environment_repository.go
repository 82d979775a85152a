package repository

import (
	"context"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// EnvironmentRepository abstrae el catálogo de ambientes DIAN (habilitación/producción).
type EnvironmentRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Environment, error)
	List(ctx context.Context) ([]entity.Environment, error)
}
