package dian

import (
	"fmt"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// BuildQRPayload construye la cadena que el código QR de la representación gráfica de
// la factura codifica: NumFac|FecFac|ValFac|CodImp|ValImp|CUFE|URL. No genera ninguna
// imagen ni PDF, sólo la cadena de datos, derivada en su totalidad de campos que la
// factura ya tiene calculados.
func BuildQRPayload(inv *entity.Invoice, validationURL string) string {
	codImp, valImp := dominantTax(inv)
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		inv.NumberString(),
		inv.IssueDate.Format("2006-01-02"),
		formatMinorAmount(inv.TotalMinor),
		codImp,
		formatMinorAmount(valImp),
		inv.Fingerprint,
		validationURL,
	)
}

// dominantTax devuelve el código y monto del primer impuesto presente en el orden fijo
// IVA/INC/ICA, que es el que la representación gráfica de la DIAN destaca en el QR.
func dominantTax(inv *entity.Invoice) (code string, amountMinor int64) {
	if len(inv.Taxes) == 0 {
		return "01", 0
	}
	return inv.Taxes[0].Code, inv.Taxes[0].AmountMinor
}
