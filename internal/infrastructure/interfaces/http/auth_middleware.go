package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tintofe/einvoice-core/internal/application/reqauth"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/pkg/logger"
)

// LocalAPIKey es la clave de c.Locals bajo la que AuthMiddleware deja la *entity.ApiKey
// autenticada, disponible a cualquier handler después de él.
const LocalAPIKey = "api_key"

// AuthMiddleware valida X-Tinto-API-Key/X-Tinto-Signature/X-Tinto-Timestamp con
// reqauth.Validate y exige la capacidad dada antes de dejar pasar la petición.
func AuthMiddleware(keys reqauth.ApiKeyLookup, replay reqauth.ReplayStore, capability entity.Capability, log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := reqauth.Request{
			APIKey:    c.Get("X-Tinto-API-Key"),
			Signature: c.Get("X-Tinto-Signature"),
			Timestamp: c.Get("X-Tinto-Timestamp"),
			Method:    c.Method(),
			Path:      c.Path(),
			Body:      c.Body(),
		}
		key, err := reqauth.Validate(c.Context(), req, capability, reqauth.SystemClock, keys, replay)
		if err != nil {
			return writeError(c, log, err)
		}
		c.Locals(LocalAPIKey, key)
		return c.Next()
	}
}
