package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/tintofe/einvoice-core/internal/application/intake"
	"github.com/tintofe/einvoice-core/internal/application/issuance"
	"github.com/tintofe/einvoice-core/internal/application/keycustody"
	infradian "github.com/tintofe/einvoice-core/internal/infrastructure/dian"
	"github.com/tintofe/einvoice-core/internal/infrastructure/dian/signer"
	httpRouter "github.com/tintofe/einvoice-core/internal/infrastructure/interfaces/http"
	"github.com/tintofe/einvoice-core/internal/infrastructure/postgres"
	"github.com/tintofe/einvoice-core/pkg/config"
	"github.com/tintofe/einvoice-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "info"})
	log.Info().Str("env", cfg.App.Env).Str("app", cfg.App.Name).Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	issuerRepo := postgres.NewIssuerRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	environmentRepo := postgres.NewEnvironmentRepository(pool)
	submissionRepo := postgres.NewSubmissionRepository(pool)
	apiKeyRepo := postgres.NewApiKeyRepository(pool)
	signatureRepo := postgres.NewRequestSignatureRepository(pool)

	masterKey, err := keycustody.Load(keycustody.LoadConfig{
		ConsoleAccessEnv:  cfg.Security.ConsoleAccessEnv,
		SystemKeyEnv:      cfg.Security.SystemKeyEnv,
		MasterKeyFilePath: cfg.Security.MasterKeyFilePath,
	}, os.Getenv, os.ReadFile)
	if err != nil {
		log.Fatal().Err(err).Msg("cargar llave maestra")
	}

	intakeSvc := &intake.Service{
		Invoices:     invoiceRepo,
		Issuers:      issuerRepo,
		Customers:    customerRepo,
		Environments: environmentRepo,
	}

	orchestrator := &issuance.Orchestrator{
		Invoices:     invoiceRepo,
		Submissions:  submissionRepo,
		Issuers:      issuerRepo,
		Customers:    customerRepo,
		Environments: environmentRepo,
		MasterKey:    masterKey,
		Signer:       signer.NewService(),
		Client:       issuance.NewClientFromSOAP(infradian.NewClient()),
		Log:          log.ForComponent("issuance"),
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	})
	app.Use(recover.New())
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Tinto DIAN Core",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Intake:       intakeSvc,
		Orchestrator: orchestrator,
		Invoices:     invoiceRepo,
		Submissions:  submissionRepo,
		Keys:         apiKeyRepo,
		Replay:       signatureRepo,
		Log:          log,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	log.Info().Msg("aplicación detenida")
}
