package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/pkg/logger"
)

// writeError traduce un error de dominio a una respuesta HTTP siguiendo la taxonomía
// cerrada de domain.Kind. Las fallas Crypto y las no reconocidas nunca exponen su
// mensaje interno: se registran con un id de correlación y el llamador recibe sólo
// ese id y un mensaje fijo.
func writeError(c *fiber.Ctx, log *logger.Logger, err error) error {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		correlationID := uuid.NewString()
		log.Error().Str("correlation_id", correlationID).Err(err).Msg("fallo interno no clasificado")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Code: "InternalFailure", Message: "an internal error occurred", CorrelationID: correlationID,
		})
	}

	if derr.Kind == domain.KindCrypto {
		correlationID := uuid.NewString()
		log.Error().Str("correlation_id", correlationID).Str("code", derr.Code).Err(derr).Msg("fallo de custodia de llaves o firma")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Code: "CryptoFailure", Message: "an internal error occurred", CorrelationID: correlationID,
		})
	}

	status := statusForKind(derr.Kind)
	return c.Status(status).JSON(ErrorResponse{Code: derr.Code, Message: derr.Message})
}

func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation, domain.KindBusinessRule:
		return fiber.StatusBadRequest
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindConflict:
		return fiber.StatusConflict
	case domain.KindAuth:
		return fiber.StatusUnauthorized
	case domain.KindUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
