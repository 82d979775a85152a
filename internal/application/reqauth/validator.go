// Package reqauth implementa la validación de autenticación de peticiones externas:
// firma, ventana de tiempo, conjunto de repetición y capacidades de rol.
package reqauth

import (
	"context"
	"time"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"
)

// Clock se inyecta para que las pruebas controlen "now" sin dormir de verdad.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock es el reloj de producción por defecto.
var SystemClock Clock = systemClock{}

// ApiKeyLookup resuelve una ApiKey por su huella de búsqueda.
type ApiKeyLookup interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.ApiKey, error)
}

// ReplayStore inserta atómicamente el par (firma, timestamp) si no existe ya.
type ReplayStore interface {
	InsertIfAbsent(ctx context.Context, signatureDigest string, apiKeyID string, method, path string, ts time.Time) (inserted bool, err error)
}

const (
	windowBefore = 5 * time.Minute
	windowAfter  = 1 * time.Minute
)

// Request es la forma mínima de una petición autenticada, tal como la expone la
// capa HTTP al validador.
type Request struct {
	APIKey    string // secreto crudo, tal como lo envía el llamador en X-Tinto-API-Key
	Signature string // X-Tinto-Signature
	Timestamp string // X-Tinto-Timestamp, ISO-8601 UTC
	Method    string
	Path      string
	Body      []byte
}

// Validate comprueba encabezados, ventana de tiempo, firma, estado de repetición,
// vigencia de la llave y permiso de rol en ese orden, y devuelve la ApiKey autenticada.
func Validate(ctx context.Context, req Request, capability entity.Capability, clock Clock, keys ApiKeyLookup, replay ReplayStore) (*entity.ApiKey, error) {
	if req.APIKey == "" || req.Signature == "" || req.Timestamp == "" {
		return nil, domain.NewAuth("AuthFailure::Missing", "missing API key, signature or timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		return nil, domain.NewAuth("AuthFailure::BadFormat", "timestamp is not a valid ISO-8601 UTC instant")
	}
	now := clock.Now()
	if ts.Before(now.Add(-windowBefore)) || ts.After(now.Add(windowAfter)) {
		return nil, domain.NewAuth("AuthFailure::Expired", "timestamp is outside the acceptance window")
	}

	expected := icrypto.SHA512Hex([]byte(req.APIKey + ":" + req.Method + ":" + req.Path + ":" + req.Timestamp + ":" + string(req.Body)))
	if !icrypto.ConstantTimeEqual(expected, req.Signature) {
		return nil, domain.NewAuth("AuthFailure::BadSignature", "signature does not match expected value")
	}

	fingerprint := icrypto.SHA512Hex([]byte(req.APIKey))
	key, err := keys.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "look up API key", err)
	}

	inserted, err := replay.InsertIfAbsent(ctx, req.Signature, fingerprint, req.Method, req.Path, ts)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "record replay nonce", err)
	}
	if !inserted {
		return nil, domain.NewAuth("AuthFailure::Replay", "(signature, timestamp) has already been used")
	}

	if key == nil {
		return nil, domain.NewAuth("AuthFailure::UnknownKey", "no active API key matches this fingerprint")
	}
	if !key.Usable(now) {
		return nil, domain.NewAuth("AuthFailure::Expired", "API key is inactive or past its expiry")
	}
	if !key.Role.Can(capability) {
		return nil, domain.NewAuth("AuthFailure::RoleDenied", "role does not permit this operation")
	}

	return key, nil
}

// Sign computa la firma esperada para una petición salitente (usado por clientes de
// prueba), reutilizando la misma
// fórmula que Validate para no duplicar la definición canónica en dos sitios.
func Sign(apiKey, method, path, timestamp string, body []byte) string {
	return icrypto.SHA512Hex([]byte(apiKey + ":" + method + ":" + path + ":" + timestamp + ":" + string(body)))
}
