package repository

import (
	"context"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// InvoiceRepository abstrae la persistencia de facturas y sus líneas.
type InvoiceRepository interface {
	// FindByID devuelve la factura junto con sus líneas ordenadas por LineNumber.
	FindByID(ctx context.Context, id string) (*entity.Invoice, error)

	// FindByIssuerPrefixNumber localiza una factura por su identificador de negocio
	// (issuer, prefix, number), usado por intake para rechazar números duplicados.
	FindByIssuerPrefixNumber(ctx context.Context, issuerID, prefix string, number int64) (*entity.Invoice, error)

	// Upsert inserta o actualiza la factura (sin sus líneas) y devuelve su ID.
	Upsert(ctx context.Context, inv *entity.Invoice) (string, error)

	// InsertLine inserta una única línea de factura.
	InsertLine(ctx context.Context, invoiceID string, line *entity.LineItem) error

	// NextNumber incrementa atómicamente max(number)+1 para el par (issuerID, prefix)
	// y devuelve el número asignado, comenzando en 1 si no existe factura previa.
	NextNumber(ctx context.Context, issuerID, prefix string) (int64, error)

	// UpdateStatus aplica una transición de estado si, y solo si, el estado actual en
	// almacenamiento coincide con expectedCurrent (compare-and-set optimista).
	UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus) error

	// UpdateSignedContent aplica el fingerprint y el UBL cifrado (firmado o no) junto
	// con la transición de estado que los acompaña, bajo el mismo compare-and-set que
	// UpdateStatus: ninguna escritura posterior al firmado pisa un estado que ya avanzó
	// por un intento concurrente de Submit sobre la misma factura.
	UpdateSignedContent(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus, fingerprint, encryptedUBL, encryptedSignedXML string) error

	// ListByIssuer devuelve las facturas de un emisor (por NIT), sin sus líneas,
	// ordenadas por fecha de emisión descendente.
	ListByIssuer(ctx context.Context, issuerIDNumber string) ([]entity.Invoice, error)
}
