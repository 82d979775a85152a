package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// SubmissionRepository es la implementación PostgreSQL de repository.SubmissionRepository.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*entity.Submission, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, invoice_id, environment_id, track_id, status, encrypted_request_zip, encrypted_response,
		       dian_error_code, dian_error_message, submitted_at, processed_at, created_at, updated_at
		FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find submission by id", err)
	}
	return sub, nil
}

func (r *SubmissionRepository) FindLatestByInvoiceID(ctx context.Context, invoiceID string) (*entity.Submission, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, invoice_id, environment_id, track_id, status, encrypted_request_zip, encrypted_response,
		       dian_error_code, dian_error_message, submitted_at, processed_at, created_at, updated_at
		FROM submissions WHERE invoice_id = $1 ORDER BY created_at DESC LIMIT 1`, invoiceID)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find latest submission for invoice", err)
	}
	return sub, nil
}

func (r *SubmissionRepository) Insert(ctx context.Context, sub *entity.Submission) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO submissions (
			id, invoice_id, environment_id, track_id, status, encrypted_request_zip, encrypted_response,
			dian_error_code, dian_error_message, submitted_at, processed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
		RETURNING id`,
		sub.ID, sub.InvoiceID, sub.EnvironmentID, sub.TrackID, sub.Status, sub.EncryptedRequestZip, sub.EncryptedResponse,
		sub.DianErrorCode, sub.DianErrorMessage, sub.SubmittedAt, sub.ProcessedAt,
	).Scan(&id)
	if err != nil {
		return "", domain.NewUpstream("StorageFailure::Write", "insert submission", err)
	}
	return id, nil
}

func (r *SubmissionRepository) UpdateRequestZip(ctx context.Context, id string, encryptedRequestZip string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE submissions SET encrypted_request_zip = $1, updated_at = now() WHERE id = $2`,
		encryptedRequestZip, id)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "update submission request zip", err)
	}
	return nil
}

// UpdateStatus aplica el compare-and-set optimista y rechaza cualquier escritura que
// retrocedería en la retícula de monotonicidad, aun si expectedCurrent coincidiera.
func (r *SubmissionRepository) UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.SubmissionStatus) error {
	if !next.AtLeast(expectedCurrent) {
		return domain.ErrIllegalStateTransition
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		next, id, expectedCurrent)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "update submission status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalStateTransition
	}
	return nil
}

func (r *SubmissionRepository) UpdateDianResult(ctx context.Context, id string, trackID *string, encryptedResponse string, dianErrorCode, dianErrorMessage *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET track_id = COALESCE($1, track_id),
		    encrypted_response = $2,
		    dian_error_code = $3,
		    dian_error_message = $4,
		    processed_at = now(),
		    updated_at = now()
		WHERE id = $5`,
		trackID, encryptedResponse, dianErrorCode, dianErrorMessage, id)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "update submission DIAN result", err)
	}
	return nil
}

func scanSubmission(row rowScanner) (*entity.Submission, error) {
	var s entity.Submission
	err := row.Scan(
		&s.ID, &s.InvoiceID, &s.EnvironmentID, &s.TrackID, &s.Status, &s.EncryptedRequestZip, &s.EncryptedResponse,
		&s.DianErrorCode, &s.DianErrorMessage, &s.SubmittedAt, &s.ProcessedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
