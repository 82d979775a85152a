package dian

import (
	"errors"
	"fmt"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/pkg/dian"
)

// ErrInvalidInvoice agrupa errores de validación de factura previos a la emisión.
var ErrInvalidInvoice = errors.New("dian: factura inválida")

// ValidateInvoice comprueba la consistencia de totales, la relación entre fecha de
// vencimiento y fecha de emisión, y las invariantes de LineItem (numeración
// contigua, line_total y tax_amount) antes de que la factura entre al pipeline de emisión.
func ValidateInvoice(inv *entity.Invoice) error {
	if inv == nil {
		return fmt.Errorf("%w: factura nula", ErrInvalidInvoice)
	}
	var errs []error

	if len(inv.Lines) == 0 {
		errs = append(errs, fmt.Errorf("%w: la factura debe tener al menos una línea", ErrInvalidInvoice))
	}
	for i, l := range inv.Lines {
		if l.LineNumber != i+1 {
			errs = append(errs, fmt.Errorf("%w: numeración de líneas debe ser contigua desde 1, línea %d tiene LineNumber=%d", ErrInvalidInvoice, i+1, l.LineNumber))
		}
		if got, want := l.LineTotalMinor, l.ComputeLineTotal(); got != want {
			errs = append(errs, fmt.Errorf("%w: línea %d: line_total=%d no coincide con quantity*unit_price redondeado=%d", ErrInvalidInvoice, l.LineNumber, got, want))
		}
		if l.TaxRatePercent != nil {
			want := l.ComputeTaxAmount()
			if l.TaxAmountMinor == nil || *l.TaxAmountMinor != *want {
				errs = append(errs, fmt.Errorf("%w: línea %d: tax_amount no coincide con line_total*rate/100 redondeado", ErrInvalidInvoice, l.LineNumber))
			}
		}
	}

	if err := inv.ValidateTotals(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidInvoice, err))
	}
	if err := inv.ValidateDueDate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidInvoice, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ValidateIdentification aplica el dígito de verificación módulo-11 cuando el tipo de
// identificación es NIT; es un control de intake adicional, no parte del cómputo del
// CUFE en sí.
func ValidateIdentification(idType entity.IdentificationType, idNumber string) error {
	if idType == entity.IDTypeNIT {
		if err := dian.ValidateNITVerificationDigit(idNumber); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
		}
	}
	return nil
}
