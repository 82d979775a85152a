package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// IssuerRepository es la implementación PostgreSQL de repository.IssuerRepository.
type IssuerRepository struct {
	pool *pgxpool.Pool
}

func NewIssuerRepository(pool *pgxpool.Pool) *IssuerRepository {
	return &IssuerRepository{pool: pool}
}

func (r *IssuerRepository) FindByID(ctx context.Context, id string) (*entity.Issuer, error) {
	row := r.pool.QueryRow(ctx, issuerSelect+`WHERE id = $1`, id)
	return scanIssuer(row, domain.ErrIssuerNotFound)
}

func (r *IssuerRepository) FindByIDNumber(ctx context.Context, idNumber string) (*entity.Issuer, error) {
	row := r.pool.QueryRow(ctx, issuerSelect+`WHERE id_number = $1`, idNumber)
	return scanIssuer(row, domain.ErrIssuerNotFound)
}

func (r *IssuerRepository) Upsert(ctx context.Context, issuer *entity.Issuer) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO issuers (
			id, id_type, id_number, legal_name, address, city, department, country, contact_email,
			encrypted_certificate, certificate_password, certificate_expires_at, technical_key,
			software_id, software_provider_id, software_pin, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
		ON CONFLICT (id) DO UPDATE SET
			legal_name = EXCLUDED.legal_name,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			department = EXCLUDED.department,
			encrypted_certificate = EXCLUDED.encrypted_certificate,
			certificate_password = EXCLUDED.certificate_password,
			certificate_expires_at = EXCLUDED.certificate_expires_at,
			technical_key = EXCLUDED.technical_key,
			updated_at = now()
		RETURNING id`,
		issuer.ID, issuer.IDType, issuer.IDNumber, issuer.LegalName, issuer.Address, issuer.City, issuer.Department,
		issuer.Country, issuer.ContactEmail, issuer.EncryptedCertificate, issuer.CertificatePassword,
		issuer.CertificateExpiresAt, issuer.TechnicalKey, issuer.SoftwareID, issuer.SoftwareProviderID, issuer.SoftwarePIN,
	).Scan(&id)
	if err != nil {
		return "", domain.NewUpstream("StorageFailure::Write", "upsert issuer", err)
	}
	return id, nil
}

const issuerSelect = `
	SELECT id, id_type, id_number, legal_name, address, city, department, country, contact_email,
	       encrypted_certificate, certificate_password, certificate_expires_at, technical_key,
	       software_id, software_provider_id, software_pin, created_at, updated_at
	FROM issuers `

func scanIssuer(row rowScanner, notFound error) (*entity.Issuer, error) {
	var iss entity.Issuer
	err := row.Scan(
		&iss.ID, &iss.IDType, &iss.IDNumber, &iss.LegalName, &iss.Address, &iss.City, &iss.Department,
		&iss.Country, &iss.ContactEmail, &iss.EncryptedCertificate, &iss.CertificatePassword,
		&iss.CertificateExpiresAt, &iss.TechnicalKey, &iss.SoftwareID, &iss.SoftwareProviderID, &iss.SoftwarePIN,
		&iss.CreatedAt, &iss.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "scan issuer", err)
	}
	return &iss, nil
}
