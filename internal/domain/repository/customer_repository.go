package repository

import (
	"context"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// CustomerRepository abstrae la persistencia de adquirientes.
type CustomerRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Customer, error)
	FindByIDNumber(ctx context.Context, idNumber string) (*entity.Customer, error)
	Upsert(ctx context.Context, customer *entity.Customer) (string, error)
}
