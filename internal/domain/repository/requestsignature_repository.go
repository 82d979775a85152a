package repository

import (
	"context"
	"time"
)

// RequestSignatureRepository abstrae el registro de protección contra repetición.
// InsertIfAbsent debe traducirse a una sola escritura atómica respaldada por una
// restricción única en (signature, timestamp): una colisión de esa restricción es
// la señal de repetición, no un error a propagar.
type RequestSignatureRepository interface {
	InsertIfAbsent(ctx context.Context, signatureDigest, apiKeyID, method, path string, ts time.Time) (inserted bool, err error)
}
