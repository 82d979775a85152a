package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// CustomerRepository es la implementación PostgreSQL de repository.CustomerRepository.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

const customerSelect = `
	SELECT id, id_type, id_number, legal_name, address, city, department, country, email, phone, created_at, updated_at
	FROM customers `

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*entity.Customer, error) {
	row := r.pool.QueryRow(ctx, customerSelect+`WHERE id = $1`, id)
	return scanCustomer(row)
}

func (r *CustomerRepository) FindByIDNumber(ctx context.Context, idNumber string) (*entity.Customer, error) {
	row := r.pool.QueryRow(ctx, customerSelect+`WHERE id_number = $1`, idNumber)
	return scanCustomer(row)
}

func (r *CustomerRepository) Upsert(ctx context.Context, c *entity.Customer) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers (id, id_type, id_number, legal_name, address, city, department, country, email, phone, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			legal_name = EXCLUDED.legal_name,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			department = EXCLUDED.department,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			updated_at = now()
		RETURNING id`,
		c.ID, c.IDType, c.IDNumber, c.LegalName, c.Address, c.City, c.Department, c.Country, c.Email, c.Phone,
	).Scan(&id)
	if err != nil {
		return "", domain.NewUpstream("StorageFailure::Write", "upsert customer", err)
	}
	return id, nil
}

func scanCustomer(row rowScanner) (*entity.Customer, error) {
	var c entity.Customer
	err := row.Scan(&c.ID, &c.IDType, &c.IDNumber, &c.LegalName, &c.Address, &c.City, &c.Department,
		&c.Country, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "scan customer", err)
	}
	return &c, nil
}
