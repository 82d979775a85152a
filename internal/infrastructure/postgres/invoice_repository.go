package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// InvoiceRepository es la implementación PostgreSQL de repository.InvoiceRepository.
// Las columnas encrypted_* se tratan como blobs opacos: este repositorio nunca cifra
// ni descifra, sólo persiste y devuelve lo que recibe. El descifrado, cuando hace
// falta el contenido en claro, es responsabilidad del orquestador de emisión.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, issuer_id, customer_id, environment_id, document_type, prefix, number,
		       issue_date, issue_time, due_date, currency, subtotal_minor, tax_minor, total_minor,
		       fingerprint, status, encrypted_ubl, encrypted_signed_xml, created_at, updated_at, created_by_key_id
		FROM invoices WHERE id = $1`, id)

	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find invoice by id", err)
	}

	lines, err := r.findLines(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	return inv, nil
}

func (r *InvoiceRepository) FindByIssuerPrefixNumber(ctx context.Context, issuerID, prefix string, number int64) (*entity.Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, issuer_id, customer_id, environment_id, document_type, prefix, number,
		       issue_date, issue_time, due_date, currency, subtotal_minor, tax_minor, total_minor,
		       fingerprint, status, encrypted_ubl, encrypted_signed_xml, created_at, updated_at, created_by_key_id
		FROM invoices WHERE issuer_id = $1 AND prefix = $2 AND number = $3`, issuerID, prefix, number)

	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find invoice by business key", err)
	}
	lines, err := r.findLines(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	return inv, nil
}

func (r *InvoiceRepository) Upsert(ctx context.Context, inv *entity.Invoice) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO invoices (
			id, issuer_id, customer_id, environment_id, document_type, prefix, number,
			issue_date, issue_time, due_date, currency, subtotal_minor, tax_minor, total_minor,
			fingerprint, status, encrypted_ubl, encrypted_signed_xml, created_at, updated_at, created_by_key_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now(),now(),$19)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			fingerprint = EXCLUDED.fingerprint,
			encrypted_ubl = EXCLUDED.encrypted_ubl,
			encrypted_signed_xml = EXCLUDED.encrypted_signed_xml,
			updated_at = now()
		RETURNING id`,
		inv.ID, inv.IssuerID, inv.CustomerID, inv.EnvironmentID, inv.DocumentType, inv.Prefix, inv.Number,
		inv.IssueDate, inv.IssueTime, inv.DueDate, inv.Currency, inv.SubtotalMinor, inv.TaxMinor, inv.TotalMinor,
		inv.Fingerprint, inv.Status, inv.EncryptedUBL, inv.EncryptedSignedXML, inv.CreatedByKeyID,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return "", domain.ErrDuplicateInvoiceNumber
		}
		return "", domain.NewUpstream("StorageFailure::Write", "upsert invoice", err)
	}
	return id, nil
}

func (r *InvoiceRepository) InsertLine(ctx context.Context, invoiceID string, line *entity.LineItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoice_lines (
			invoice_id, line_number, description, quantity, unit_price_minor,
			line_total_minor, tax_rate_percent, tax_amount_minor, product_code, unit_code
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		invoiceID, line.LineNumber, line.Description, line.Quantity, line.UnitPriceMinor,
		line.LineTotalMinor, line.TaxRatePercent, line.TaxAmountMinor, line.ProductCode, line.UnitCode,
	)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "insert invoice line", err)
	}
	return nil
}

// NextNumber implementa max(number)+1 scoped by (issuer, prefix) con una fila de
// secuencia dedicada bajo bloqueo, en lugar de un MAX(number) sobre la tabla de
// facturas: evita el escaneo completo y sirve como el único punto de serialización
// para números concurrentes del mismo emisor y prefijo.
func (r *InvoiceRepository) NextNumber(ctx context.Context, issuerID, prefix string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, domain.NewUpstream("StorageFailure::Write", "begin sequence transaction", err)
	}
	defer tx.Rollback(ctx)

	var next int64
	err = tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (issuer_id, prefix, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (issuer_id, prefix) DO UPDATE SET last_number = invoice_sequences.last_number + 1
		RETURNING last_number`, issuerID, prefix).Scan(&next)
	if err != nil {
		return 0, domain.NewUpstream("StorageFailure::Write", "increment invoice sequence", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, domain.NewUpstream("StorageFailure::Write", "commit sequence transaction", err)
	}
	return next, nil
}

func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		next, id, expectedCurrent)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "update invoice status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalStateTransition
	}
	return nil
}

func (r *InvoiceRepository) UpdateSignedContent(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus, fingerprint, encryptedUBL, encryptedSignedXML string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET status = $1, fingerprint = $2, encrypted_ubl = $3, encrypted_signed_xml = $4, updated_at = now()
		WHERE id = $5 AND status = $6`,
		next, fingerprint, encryptedUBL, encryptedSignedXML, id, expectedCurrent)
	if err != nil {
		return domain.NewUpstream("StorageFailure::Write", "update invoice signed content", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIllegalStateTransition
	}
	return nil
}

// ListByIssuer resuelve el emisor por NIT y devuelve sus facturas sin líneas; la capa
// HTTP las usa para GET /v1/invoices?issuerNit=..., donde no se necesita el detalle
// de cada línea.
func (r *InvoiceRepository) ListByIssuer(ctx context.Context, issuerIDNumber string) ([]entity.Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.issuer_id, i.customer_id, i.environment_id, i.document_type, i.prefix, i.number,
		       i.issue_date, i.issue_time, i.due_date, i.currency, i.subtotal_minor, i.tax_minor, i.total_minor,
		       i.fingerprint, i.status, i.encrypted_ubl, i.encrypted_signed_xml, i.created_at, i.updated_at, i.created_by_key_id
		FROM invoices i
		JOIN issuers s ON s.id = i.issuer_id
		WHERE s.id_number = $1
		ORDER BY i.issue_date DESC`, issuerIDNumber)
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "list invoices by issuer", err)
	}
	defer rows.Close()

	var out []entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, domain.NewUpstream("StorageFailure::Query", "scan invoice", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (r *InvoiceRepository) findLines(ctx context.Context, invoiceID string) ([]entity.LineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT line_number, description, quantity, unit_price_minor, line_total_minor,
		       tax_rate_percent, tax_amount_minor, product_code, unit_code
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY line_number`, invoiceID)
	if err != nil {
		return nil, domain.NewUpstream("StorageFailure::Query", "find invoice lines", err)
	}
	defer rows.Close()

	var lines []entity.LineItem
	for rows.Next() {
		var l entity.LineItem
		l.InvoiceID = invoiceID
		if err := rows.Scan(&l.LineNumber, &l.Description, &l.Quantity, &l.UnitPriceMinor, &l.LineTotalMinor,
			&l.TaxRatePercent, &l.TaxAmountMinor, &l.ProductCode, &l.UnitCode); err != nil {
			return nil, domain.NewUpstream("StorageFailure::Query", "scan invoice line", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	err := row.Scan(
		&inv.ID, &inv.IssuerID, &inv.CustomerID, &inv.EnvironmentID, &inv.DocumentType, &inv.Prefix, &inv.Number,
		&inv.IssueDate, &inv.IssueTime, &inv.DueDate, &inv.Currency, &inv.SubtotalMinor, &inv.TaxMinor, &inv.TotalMinor,
		&inv.Fingerprint, &inv.Status, &inv.EncryptedUBL, &inv.EncryptedSignedXML, &inv.CreatedAt, &inv.UpdatedAt, &inv.CreatedByKeyID,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
