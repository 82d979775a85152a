package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tintofe/einvoice-core/internal/application/intake"
	"github.com/tintofe/einvoice-core/internal/application/issuance"
	"github.com/tintofe/einvoice-core/internal/application/reqauth"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/internal/domain/repository"
	"github.com/tintofe/einvoice-core/pkg/logger"
)

// RouterDeps son las dependencias que Router inyecta en los handlers.
type RouterDeps struct {
	Intake       *intake.Service
	Orchestrator *issuance.Orchestrator
	Invoices     repository.InvoiceRepository
	Submissions  repository.SubmissionRepository
	Keys         reqauth.ApiKeyLookup
	Replay       reqauth.ReplayStore
	Log          *logger.Logger
}

// Router registra el contrato de §6 bajo /v1. Toda ruta exige una de las cuatro
// capacidades de entity.Capability vía AuthMiddleware.
func Router(app *fiber.App, deps RouterDeps) {
	h := &InvoiceHandler{
		Intake:       deps.Intake,
		Orchestrator: deps.Orchestrator,
		Invoices:     deps.Invoices,
		Submissions:  deps.Submissions,
		Log:          deps.Log,
	}

	v1 := app.Group("/v1")

	invoices := v1.Group("/invoices")
	invoices.Post("/", AuthMiddleware(deps.Keys, deps.Replay, entity.CapabilityCreateInvoice, deps.Log), h.Create)
	invoices.Get("/", AuthMiddleware(deps.Keys, deps.Replay, entity.CapabilityReadInvoices, deps.Log), h.List)
	invoices.Get("/:id", AuthMiddleware(deps.Keys, deps.Replay, entity.CapabilityReadInvoices, deps.Log), h.GetByID)
	invoices.Post("/:id/issue", AuthMiddleware(deps.Keys, deps.Replay, entity.CapabilityIssueToDian, deps.Log), h.Issue)
	invoices.Get("/:id/status", AuthMiddleware(deps.Keys, deps.Replay, entity.CapabilityReadInvoices, deps.Log), h.Status)
	invoices.Post("/:id/status/refresh", AuthMiddleware(deps.Keys, deps.Replay, entity.CapabilityIssueToDian, deps.Log), h.RefreshStatus)
}
