package repository

import (
	"context"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// SubmissionRepository abstrae la persistencia de intentos de entrega ante la DIAN.
type SubmissionRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Submission, error)

	// FindLatestByInvoiceID devuelve el envío más reciente para una factura, o nil si
	// nunca se ha intentado enviar.
	FindLatestByInvoiceID(ctx context.Context, invoiceID string) (*entity.Submission, error)

	Insert(ctx context.Context, sub *entity.Submission) (string, error)

	// UpdateRequestZip persiste el ZIP cifrado una vez empaquetado; el envío ya existe en
	// PENDING desde antes de que el ZIP esté listo, así que esto llega como una escritura
	// separada en vez de formar parte de Insert.
	UpdateRequestZip(ctx context.Context, id string, encryptedRequestZip string) error

	// UpdateStatus aplica un compare-and-set optimista sobre el estado: sólo escribe si
	// expectedCurrent coincide con el estado almacenado, y sólo si next no retrocede en
	// la retícula de monotonicidad del estado de envío.
	UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.SubmissionStatus) error

	// UpdateDianResult persiste el track ID, la respuesta cifrada y, cuando aplica, el
	// código y mensaje de error crudos de la DIAN.
	UpdateDianResult(ctx context.Context, id string, trackID *string, encryptedResponse string, dianErrorCode, dianErrorMessage *string) error
}
