// Package intake construye y persiste una factura nueva a partir de los datos crudos
// recibidos en el borde HTTP, antes de que entre al pipeline de emisión.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tintofe/einvoice-core/internal/domain"
	domaindian "github.com/tintofe/einvoice-core/internal/domain/dian"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/internal/domain/repository"
	"github.com/tintofe/einvoice-core/pkg/dian"
)

// LineInput es una línea de factura tal como la entrega el llamador: sin line_total ni
// tax_amount calculados todavía.
type LineInput struct {
	Description    string
	Quantity       decimal.Decimal
	UnitPriceMinor int64
	TaxCode        string // "" si la línea no tributa; ver pkg/dian.TaxCodeIVA/INC/ICA
	TaxRatePercent *decimal.Decimal
	ProductCode    string
	UnitCode       string
}

// CreateInvoiceParams agrupa los datos de entrada para dar de alta una factura en DRAFT.
type CreateInvoiceParams struct {
	IssuerIDNumber   string
	CustomerIDNumber string
	EnvironmentID    string
	DocumentType     entity.DocumentType
	Prefix           string
	Number           *int64 // nil: se asigna con NextNumber
	Currency         string
	IssueDate        time.Time
	DueDate          *time.Time
	CreatedByKeyID   *string
	Lines            []LineInput

	// DeclaredTotalMinor es el total que el llamador espera, en unidades menores. Es
	// opcional; cuando viene, debe coincidir con subtotal+impuestos calculado de las
	// líneas, o la creación falla con BusinessRule en vez de aceptar un total incorrecto.
	DeclaredTotalMinor *int64
}

// Service orquesta la validación e inserción de facturas nuevas.
type Service struct {
	Invoices     repository.InvoiceRepository
	Issuers      repository.IssuerRepository
	Customers    repository.CustomerRepository
	Environments repository.EnvironmentRepository
}

// CreateInvoice resuelve emisor, adquiriente y ambiente, calcula los totales de línea,
// valida la factura resultante y la persiste en estado DRAFT junto con sus líneas.
// No calcula el CUFE ni firma nada: eso ocurre en el momento de la emisión.
func (s *Service) CreateInvoice(ctx context.Context, p CreateInvoiceParams) (*entity.Invoice, error) {
	issuer, err := s.Issuers.FindByIDNumber(ctx, p.IssuerIDNumber)
	if err != nil {
		return nil, err
	}

	customer, err := s.Customers.FindByIDNumber(ctx, p.CustomerIDNumber)
	if err != nil {
		return nil, err
	}
	if err := domaindian.ValidateIdentification(customer.IDType, customer.IDNumber); err != nil {
		return nil, domain.NewValidation("InvalidCustomerIdentification", err.Error())
	}

	env, err := s.Environments.FindByID(ctx, p.EnvironmentID)
	if err != nil {
		return nil, err
	}

	number := int64(0)
	if p.Number != nil {
		number = *p.Number
	} else {
		number, err = s.Invoices.NextNumber(ctx, issuer.ID, p.Prefix)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.Invoices.FindByIssuerPrefixNumber(ctx, issuer.ID, p.Prefix, number); err == nil {
		return nil, domain.ErrDuplicateInvoiceNumber
	} else if !errors.Is(err, domain.ErrInvoiceNotFound) {
		return nil, err
	}

	lines, taxes, subtotalMinor, taxMinor := buildLines(p.Lines)
	totalMinor := subtotalMinor + taxMinor

	if p.DeclaredTotalMinor != nil && *p.DeclaredTotalMinor != totalMinor {
		return nil, domain.NewBusinessRule("TotalsMismatch", fmt.Sprintf(
			"el total declarado %s no coincide con el total calculado de las líneas %s",
			formatAmountMinor(*p.DeclaredTotalMinor), formatAmountMinor(totalMinor)))
	}

	inv := &entity.Invoice{
		IssuerID:       issuer.ID,
		CustomerID:     customer.ID,
		EnvironmentID:  env.ID,
		DocumentType:   p.DocumentType,
		Prefix:         p.Prefix,
		Number:         number,
		IssueDate:      p.IssueDate,
		DueDate:        p.DueDate,
		Currency:       p.Currency,
		SubtotalMinor:  subtotalMinor,
		TaxMinor:       taxMinor,
		TotalMinor:     totalMinor,
		Taxes:          taxes,
		Status:         entity.InvoiceStatusDraft,
		CreatedByKeyID: p.CreatedByKeyID,
		Lines:          lines,
	}

	if err := domaindian.ValidateInvoice(inv); err != nil {
		return nil, domain.NewValidation("InvalidInvoice", err.Error())
	}

	id, err := s.Invoices.Upsert(ctx, inv)
	if err != nil {
		return nil, err
	}
	inv.ID = id

	for i := range inv.Lines {
		inv.Lines[i].InvoiceID = id
		if err := s.Invoices.InsertLine(ctx, id, &inv.Lines[i]); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

// buildLines calcula line_total y tax_amount por línea y agrega los impuestos a nivel
// de factura en el orden fijo IVA/INC/ICA que exige el cómputo del CUFE.
func buildLines(inputs []LineInput) (lines []entity.LineItem, taxes []entity.TaxLine, subtotalMinor, taxMinor int64) {
	taxTotals := make(map[string]*entity.TaxLine)

	lines = make([]entity.LineItem, 0, len(inputs))
	for i, in := range inputs {
		line := entity.LineItem{
			LineNumber:     i + 1,
			Description:    in.Description,
			Quantity:       in.Quantity,
			UnitPriceMinor: in.UnitPriceMinor,
			TaxRatePercent: in.TaxRatePercent,
			ProductCode:    in.ProductCode,
			UnitCode:       in.UnitCode,
		}
		line.LineTotalMinor = line.ComputeLineTotal()
		line.TaxAmountMinor = line.ComputeTaxAmount()

		subtotalMinor += line.LineTotalMinor
		if line.TaxAmountMinor != nil && in.TaxCode != "" {
			t := taxTotals[in.TaxCode]
			if t == nil {
				rate := ""
				if in.TaxRatePercent != nil {
					rate = in.TaxRatePercent.String()
				}
				t = &entity.TaxLine{Code: in.TaxCode, RatePercent: rate}
				taxTotals[in.TaxCode] = t
			}
			t.TaxableBaseMinor += line.LineTotalMinor
			t.AmountMinor += *line.TaxAmountMinor
			taxMinor += *line.TaxAmountMinor
		}

		lines = append(lines, line)
	}

	for _, code := range dian.TaxCodeOrder {
		if t := taxTotals[code]; t != nil {
			taxes = append(taxes, *t)
		}
	}
	return lines, taxes, subtotalMinor, taxMinor
}

// formatAmountMinor renderiza un monto en unidades menores como entero + '.' + 2
// decimales, para mensajes de error legibles al llamador.
func formatAmountMinor(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	s := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if neg {
		s = "-" + s
	}
	return s
}
