package entity

import (
	"github.com/shopspring/decimal"
)

// LineItem es un bien o servicio facturado dentro de una Invoice.
type LineItem struct {
	InvoiceID   string
	LineNumber  int // 1-based, contiguo
	Description string

	Quantity       decimal.Decimal // >= 0.0001
	UnitPriceMinor int64
	LineTotalMinor int64

	TaxRatePercent *decimal.Decimal
	TaxAmountMinor *int64

	ProductCode string
	UnitCode    string // código de unidad de medida DIAN, p.ej. "94" (unidad), "KGM"
}

// ComputeLineTotal aplica line_total == round_half_up(quantity * unit_price).
func (l *LineItem) ComputeLineTotal() int64 {
	unit := decimal.NewFromInt(l.UnitPriceMinor)
	return l.Quantity.Mul(unit).Round(0).IntPart()
}

// ComputeTaxAmount aplica tax_amount == round_half_up(line_total * rate / 100) cuando hay tarifa.
func (l *LineItem) ComputeTaxAmount() *int64 {
	if l.TaxRatePercent == nil {
		return nil
	}
	base := decimal.NewFromInt(l.LineTotalMinor)
	amount := base.Mul(*l.TaxRatePercent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	return &amount
}
