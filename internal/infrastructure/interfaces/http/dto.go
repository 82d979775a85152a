package http

import (
	"time"

	"github.com/tintofe/einvoice-core/internal/application/errormap"
	"github.com/tintofe/einvoice-core/internal/application/intake"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// ErrorResponse es el cuerpo uniforme de toda respuesta de error.
type ErrorResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// LineItemInput es una línea de factura tal como llega en el cuerpo de POST /v1/invoices.
type LineItemInput struct {
	Description    string  `json:"description"`
	Quantity       string  `json:"quantity"`
	UnitPriceMinor int64   `json:"unitPriceMinor"`
	TaxCode        string  `json:"taxCode,omitempty"`
	TaxRatePercent *string `json:"taxRatePercent,omitempty"`
	ProductCode    string  `json:"productCode,omitempty"`
	UnitCode       string  `json:"unitCode,omitempty"`
}

// CreateInvoiceRequest es el cuerpo de POST /v1/invoices.
type CreateInvoiceRequest struct {
	IssuerIDNumber   string          `json:"issuerIdNumber"`
	CustomerIDNumber string          `json:"customerIdNumber"`
	EnvironmentID    string          `json:"environmentId"`
	DocumentType     string          `json:"documentType"`
	Prefix           string          `json:"prefix"`
	Number           *int64          `json:"number,omitempty"`
	Currency         string          `json:"currency"`
	IssueDate        string          `json:"issueDate"` // "2006-01-02"
	DueDate          *string         `json:"dueDate,omitempty"`
	TotalAmountMinor *int64          `json:"totalAmountMinor,omitempty"`
	Lines            []LineItemInput `json:"lines"`
}

// TaxLineView es la representación de salida de un TaxLine agregado a nivel de factura.
type TaxLineView struct {
	Code             string `json:"code"`
	TaxableBaseMinor int64  `json:"taxableBaseMinor"`
	AmountMinor      int64  `json:"amountMinor"`
	RatePercent      string `json:"ratePercent"`
}

// LineItemView es la representación de salida de una línea de factura.
type LineItemView struct {
	LineNumber     int     `json:"lineNumber"`
	Description    string  `json:"description"`
	Quantity       string  `json:"quantity"`
	UnitPriceMinor int64   `json:"unitPriceMinor"`
	LineTotalMinor int64   `json:"lineTotalMinor"`
	TaxRatePercent *string `json:"taxRatePercent,omitempty"`
	TaxAmountMinor *int64  `json:"taxAmountMinor,omitempty"`
	ProductCode    string  `json:"productCode,omitempty"`
	UnitCode       string  `json:"unitCode,omitempty"`
}

// InvoiceView es la representación de salida de una Invoice.
type InvoiceView struct {
	ID            string         `json:"id"`
	IssuerID      string         `json:"issuerId"`
	CustomerID    string         `json:"customerId"`
	EnvironmentID string         `json:"environmentId"`
	DocumentType  string         `json:"documentType"`
	Prefix        string         `json:"prefix"`
	Number        int64          `json:"number"`
	NumberString  string         `json:"numberString"`
	IssueDate     string         `json:"issueDate"`
	DueDate       *string        `json:"dueDate,omitempty"`
	Currency      string         `json:"currency"`
	SubtotalMinor int64          `json:"subtotalMinor"`
	TaxMinor      int64          `json:"taxMinor"`
	TotalMinor    int64          `json:"totalMinor"`
	Taxes         []TaxLineView  `json:"taxes,omitempty"`
	Fingerprint   string         `json:"cufe,omitempty"`
	Status        string         `json:"status"`
	Lines         []LineItemView `json:"lines,omitempty"`
}

func toInvoiceView(inv *entity.Invoice, includeLineItems bool) InvoiceView {
	v := InvoiceView{
		ID:            inv.ID,
		IssuerID:      inv.IssuerID,
		CustomerID:    inv.CustomerID,
		EnvironmentID: inv.EnvironmentID,
		DocumentType:  string(inv.DocumentType),
		Prefix:        inv.Prefix,
		Number:        inv.Number,
		NumberString:  inv.NumberString(),
		IssueDate:     inv.IssueDate.Format("2006-01-02"),
		Currency:      inv.Currency,
		SubtotalMinor: inv.SubtotalMinor,
		TaxMinor:      inv.TaxMinor,
		TotalMinor:    inv.TotalMinor,
		Fingerprint:   inv.Fingerprint,
		Status:        string(inv.Status),
	}
	if inv.DueDate != nil {
		s := inv.DueDate.Format("2006-01-02")
		v.DueDate = &s
	}
	for _, t := range inv.Taxes {
		v.Taxes = append(v.Taxes, TaxLineView{
			Code: t.Code, TaxableBaseMinor: t.TaxableBaseMinor, AmountMinor: t.AmountMinor, RatePercent: t.RatePercent,
		})
	}
	if includeLineItems {
		for _, l := range inv.Lines {
			lv := LineItemView{
				LineNumber:     l.LineNumber,
				Description:    l.Description,
				Quantity:       l.Quantity.String(),
				UnitPriceMinor: l.UnitPriceMinor,
				LineTotalMinor: l.LineTotalMinor,
				TaxAmountMinor: l.TaxAmountMinor,
				ProductCode:    l.ProductCode,
				UnitCode:       l.UnitCode,
			}
			if l.TaxRatePercent != nil {
				s := l.TaxRatePercent.String()
				lv.TaxRatePercent = &s
			}
			v.Lines = append(v.Lines, lv)
		}
	}
	return v
}

// GuidanceView es la representación de salida de errormap.Guidance.
type GuidanceView struct {
	Category    string   `json:"category"`
	Explanation string   `json:"explanation"`
	Actions     []string `json:"actions,omitempty"`
	Retryable   bool     `json:"retryable"`
}

// StatusDetail es la representación de salida del estado de envío de una factura.
type StatusDetail struct {
	InvoiceID        string        `json:"invoiceId"`
	InvoiceStatus    string        `json:"invoiceStatus"`
	SubmissionID     string        `json:"submissionId,omitempty"`
	SubmissionStatus string        `json:"submissionStatus,omitempty"`
	TrackID          *string       `json:"trackId,omitempty"`
	DianErrorCode    *string       `json:"dianErrorCode,omitempty"`
	DianErrorMessage *string       `json:"dianErrorMessage,omitempty"`
	Guidance         *GuidanceView `json:"guidance,omitempty"`
	SubmittedAt      *time.Time    `json:"submittedAt,omitempty"`
}

func toStatusDetail(inv *entity.Invoice, sub *entity.Submission) StatusDetail {
	d := StatusDetail{InvoiceID: inv.ID, InvoiceStatus: string(inv.Status)}
	if sub == nil {
		return d
	}
	d.SubmissionID = sub.ID
	d.SubmissionStatus = string(sub.Status)
	d.TrackID = sub.TrackID
	d.DianErrorCode = sub.DianErrorCode
	d.DianErrorMessage = sub.DianErrorMessage
	d.SubmittedAt = sub.SubmittedAt
	if sub.Status == entity.SubmissionStatusRejected && sub.DianErrorCode != nil && sub.DianErrorMessage != nil {
		guidance := errormap.Classify(*sub.DianErrorCode, *sub.DianErrorMessage)
		d.Guidance = &GuidanceView{
			Category:    string(guidance.Category),
			Explanation: guidance.Explanation,
			Actions:     guidance.Actions,
			Retryable:   guidance.Retryable,
		}
	}
	return d
}

// toLineInputs traduce el cuerpo HTTP a las líneas de entrada de intake.Service.
func toLineInputs(in []LineItemInput) ([]intake.LineInput, error) {
	out := make([]intake.LineInput, 0, len(in))
	for _, l := range in {
		parsed, err := parseDecimal(l.Quantity)
		if err != nil {
			return nil, err
		}
		line := intake.LineInput{
			Description:    l.Description,
			Quantity:       parsed,
			UnitPriceMinor: l.UnitPriceMinor,
			TaxCode:        l.TaxCode,
			ProductCode:    l.ProductCode,
			UnitCode:       l.UnitCode,
		}
		if l.TaxRatePercent != nil {
			rate, err := parseDecimal(*l.TaxRatePercent)
			if err != nil {
				return nil, err
			}
			line.TaxRatePercent = &rate
		}
		out = append(out, line)
	}
	return out, nil
}
