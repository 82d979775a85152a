package dian

import "github.com/tintofe/einvoice-core/internal/domain/entity"

// BuildContext agrupa todos los datos ya resueltos (sin acceso a infraestructura)
// necesarios para construir el XML UBL 2.1 de una factura.
type BuildContext struct {
	Invoice  *entity.Invoice
	Issuer   *entity.Issuer
	Customer *entity.Customer
}
