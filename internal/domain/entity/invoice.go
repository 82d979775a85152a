package entity

import "time"

// InvoiceStatus es el estado del documento dentro de la máquina de estados de emisión.
type InvoiceStatus string

const (
	InvoiceStatusDraft            InvoiceStatus = "DRAFT"
	InvoiceStatusPendingSignature InvoiceStatus = "PENDING_SIGNATURE"
	InvoiceStatusSigned           InvoiceStatus = "SIGNED"
	InvoiceStatusSubmittedToDian  InvoiceStatus = "SUBMITTED_TO_DIAN"
	InvoiceStatusAcceptedByDian   InvoiceStatus = "ACCEPTED_BY_DIAN"
	InvoiceStatusRejectedByDian   InvoiceStatus = "REJECTED_BY_DIAN"
	InvoiceStatusCancelled        InvoiceStatus = "CANCELLED"
)

var invoiceTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceStatusDraft:            {InvoiceStatusPendingSignature: true, InvoiceStatusCancelled: true},
	InvoiceStatusPendingSignature: {InvoiceStatusSigned: true, InvoiceStatusCancelled: true},
	InvoiceStatusSigned:           {InvoiceStatusSubmittedToDian: true, InvoiceStatusCancelled: true},
	InvoiceStatusSubmittedToDian:  {InvoiceStatusAcceptedByDian: true, InvoiceStatusRejectedByDian: true},
	InvoiceStatusAcceptedByDian:   {},
	InvoiceStatusRejectedByDian:   {},
	InvoiceStatusCancelled:        {},
}

// CanTransitionTo reporta si el salto de estado está permitido por la máquina de emisión.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return invoiceTransitions[s][next]
}

// Terminal reporta si no existe ninguna transición de salida definida.
func (s InvoiceStatus) Terminal() bool {
	return len(invoiceTransitions[s]) == 0
}

// DocumentType identifica el tipo de documento electrónico soportado.
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "01"
	DocumentTypeCreditNote DocumentType = "91"
	DocumentTypeDebitNote  DocumentType = "92"
)

// TaxLine es el desglose de un impuesto a nivel de factura (CUFE, TaxTotal UBL).
type TaxLine struct {
	Code             string // "01" IVA, "04" INC, "03" ICA
	TaxableBaseMinor int64
	AmountMinor      int64
	RatePercent      string // representación decimal, p.ej. "19", "19.00"
}

// Invoice es el documento que se emite ante la DIAN.
type Invoice struct {
	ID            string
	IssuerID      string
	CustomerID    string
	EnvironmentID string
	DocumentType  DocumentType

	Prefix string
	Number int64

	IssueDate time.Time  // fecha civil; el componente de hora se ignora
	IssueTime *time.Time // hora de emisión en -05:00; nil hasta que el intake la fije
	DueDate   *time.Time

	Currency string

	SubtotalMinor int64
	TaxMinor      int64
	TotalMinor    int64
	Taxes         []TaxLine

	Fingerprint string // CUFE/CUDE hex, vacío hasta que se calcule

	Status InvoiceStatus

	EncryptedUBL       string
	EncryptedSignedXML string

	CreatedAt time.Time
	UpdatedAt time.Time

	CreatedByKeyID *string

	Lines []LineItem
}

// cufeIssueTimePlaceholder es el marcador determinista usado cuando la factura no trae
// hora de emisión almacenada: mediodía bogotano, estable por factura y no por reloj de
// pared, para no romper la determinación del CUFE entre cómputos repetidos.
var cufeIssueTimePlaceholder = func() time.Time {
	loc := time.FixedZone("-05:00", -5*60*60)
	return time.Date(1970, 1, 1, 12, 0, 0, 0, loc)
}()

// EffectiveIssueTime devuelve la hora de emisión a usar en el cálculo del CUFE: la
// almacenada si existe, o el marcador determinista por defecto.
func (inv *Invoice) EffectiveIssueTime() time.Time {
	if inv.IssueTime != nil {
		return *inv.IssueTime
	}
	return cufeIssueTimePlaceholder
}

// NumberString renderiza el identificador de factura como {prefix}{number}, sin separador.
func (inv *Invoice) NumberString() string {
	if inv.Prefix == "" {
		return formatInt(inv.Number)
	}
	return inv.Prefix + formatInt(inv.Number)
}

func formatInt(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ValidateTotals comprueba que subtotal + tax == total y que ambos casan con la suma de líneas.
func (inv *Invoice) ValidateTotals() error {
	var sumSubtotal, sumTax int64
	for _, l := range inv.Lines {
		sumSubtotal += l.LineTotalMinor
		if l.TaxAmountMinor != nil {
			sumTax += *l.TaxAmountMinor
		}
	}
	if inv.SubtotalMinor+inv.TaxMinor != inv.TotalMinor {
		return errInvoiceTotalsMismatch
	}
	if inv.SubtotalMinor != sumSubtotal {
		return errInvoiceTotalsMismatch
	}
	if inv.TaxMinor != sumTax {
		return errInvoiceTotalsMismatch
	}
	return nil
}

// ValidateDueDate comprueba due_date > issue_date cuando ambas están presentes.
func (inv *Invoice) ValidateDueDate() error {
	if inv.DueDate == nil {
		return nil
	}
	if !inv.DueDate.After(inv.IssueDate) {
		return errDueDateNotAfterIssue
	}
	return nil
}
