package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// EnvironmentRepository es la implementación PostgreSQL de repository.EnvironmentRepository.
// El catálogo es estático (entity.SeedEnvironments) pero se persiste igual para permitir
// apagar un ambiente o ajustar su endpoint sin tocar código.
type EnvironmentRepository struct {
	pool *pgxpool.Pool
}

func NewEnvironmentRepository(pool *pgxpool.Pool) *EnvironmentRepository {
	return &EnvironmentRepository{pool: pool}
}

func (r *EnvironmentRepository) FindByID(ctx context.Context, id string) (*entity.Environment, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, soap_endpoint, production FROM environments WHERE id = $1`, id)
	var e entity.Environment
	err := row.Scan(&e.ID, &e.Name, &e.SOAPEndpoint, &e.Production)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEnvironmentNotFound
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find environment by id", err)
	}
	return &e, nil
}

func (r *EnvironmentRepository) List(ctx context.Context) ([]entity.Environment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, soap_endpoint, production FROM environments ORDER BY id`)
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "list environments", err)
	}
	defer rows.Close()

	var out []entity.Environment
	for rows.Next() {
		var e entity.Environment
		if err := rows.Scan(&e.ID, &e.Name, &e.SOAPEndpoint, &e.Production); err != nil {
			return nil, domain.NewUpstream("StorageFailure::Query", "scan environment", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Seed inserta el catálogo fijo de ambientes si aún no existe, idempotente por ON CONFLICT.
func (r *EnvironmentRepository) Seed(ctx context.Context) error {
	for _, e := range entity.SeedEnvironments() {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO environments (id, name, soap_endpoint, production)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO NOTHING`, e.ID, e.Name, e.SOAPEndpoint, e.Production)
		if err != nil {
			return domain.NewUpstream("StorageFailure::Write", "seed environments", err)
		}
	}
	return nil
}
