package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tintofe/einvoice-core/internal/application/intake"
	"github.com/tintofe/einvoice-core/internal/application/issuance"
	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/internal/domain/repository"
	"github.com/tintofe/einvoice-core/pkg/logger"
)

// InvoiceHandler expone el contrato HTTP de facturas. Permanece deliberadamente
// delgado: toda decisión de negocio vive en intake.Service o issuance.Orchestrator,
// la validación de forma del request es lo único que ocurre aquí.
type InvoiceHandler struct {
	Intake       *intake.Service
	Orchestrator *issuance.Orchestrator
	Invoices     repository.InvoiceRepository
	Submissions  repository.SubmissionRepository
	Log          *logger.Logger
}

// Create crea una factura en DRAFT. POST /v1/invoices
func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	var req CreateInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.Log, domain.NewValidation("MalformedBody", "request body is not valid JSON"))
	}

	issueDate, err := parseDate(req.IssueDate)
	if err != nil {
		return writeError(c, h.Log, domain.NewValidation("InvalidIssueDate", "issueDate must be YYYY-MM-DD"))
	}
	var dueDate *time.Time
	if req.DueDate != nil {
		d, err := parseDate(*req.DueDate)
		if err != nil {
			return writeError(c, h.Log, domain.NewValidation("InvalidDueDate", "dueDate must be YYYY-MM-DD"))
		}
		dueDate = &d
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		return writeError(c, h.Log, domain.NewValidation("InvalidLineItem", "one or more line items have a malformed quantity or tax rate"))
	}

	var keyID *string
	if key, ok := c.Locals(LocalAPIKey).(*entity.ApiKey); ok && key != nil {
		keyID = &key.ID
	}

	inv, err := h.Intake.CreateInvoice(c.Context(), intake.CreateInvoiceParams{
		IssuerIDNumber:     req.IssuerIDNumber,
		CustomerIDNumber:   req.CustomerIDNumber,
		EnvironmentID:      req.EnvironmentID,
		DocumentType:       entity.DocumentType(req.DocumentType),
		Prefix:             req.Prefix,
		Number:             req.Number,
		Currency:           req.Currency,
		IssueDate:          issueDate,
		DueDate:            dueDate,
		CreatedByKeyID:     keyID,
		Lines:              lines,
		DeclaredTotalMinor: req.TotalAmountMinor,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toInvoiceView(inv, true))
}

// Issue entrega la factura a la DIAN. POST /v1/invoices/:id/issue
func (h *InvoiceHandler) Issue(c *fiber.Ctx) error {
	id := c.Params("id")
	sub, err := h.Orchestrator.Submit(c.Context(), id)
	if err != nil && sub == nil {
		return writeError(c, h.Log, err)
	}
	inv, findErr := h.Invoices.FindByID(c.Context(), id)
	if findErr != nil {
		return writeError(c, h.Log, findErr)
	}
	if err != nil {
		// el envío quedó registrado en ERROR pero la factura es legible; se devuelve
		// su estado actual con el código de falla original.
		return writeError(c, h.Log, err)
	}
	return c.JSON(toInvoiceView(inv, false))
}

// GetByID devuelve una factura. GET /v1/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	inv, err := h.Invoices.FindByID(c.Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	includeLines := c.QueryBool("includeLineItems", false)
	return c.JSON(toInvoiceView(inv, includeLines))
}

// List devuelve las facturas de un emisor. GET /v1/invoices?issuerNit=...
func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	nit := c.Query("issuerNit")
	digits := onlyDigitsCount(nit)
	if digits < 9 || digits > 10 {
		return writeError(c, h.Log, domain.NewValidation("InvalidIssuerNit", "issuerNit must have 9 or 10 digits"))
	}
	invoices, err := h.Invoices.ListByIssuer(c.Context(), nit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	views := make([]InvoiceView, 0, len(invoices))
	for i := range invoices {
		views = append(views, toInvoiceView(&invoices[i], false))
	}
	return c.JSON(views)
}

// Status devuelve el detalle de estado de envío. GET /v1/invoices/:id/status
func (h *InvoiceHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	inv, err := h.Invoices.FindByID(c.Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	sub, err := h.Submissions.FindLatestByInvoiceID(c.Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(toStatusDetail(inv, sub))
}

// RefreshStatus consulta a la DIAN el estado más reciente del envío vigente.
// POST /v1/invoices/:id/status/refresh
func (h *InvoiceHandler) RefreshStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	inv, err := h.Invoices.FindByID(c.Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	sub, err := h.Submissions.FindLatestByInvoiceID(c.Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if sub == nil {
		return writeError(c, h.Log, domain.NewNotFound("SubmissionNotFound", "invoice has not been submitted yet"))
	}
	updated, err := h.Orchestrator.CheckStatus(c.Context(), sub)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(toStatusDetail(inv, updated))
}

func onlyDigitsCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
