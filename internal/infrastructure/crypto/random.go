package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/tintofe/einvoice-core/internal/domain"
)

// SecureRandomBytes envuelve crypto/rand.Read con el mapeo de errores de dominio.
func SecureRandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "leer bytes aleatorios seguros", err)
	}
	return buf, nil
}

// RandomToken genera un token aleatorio de nBytes codificado en base64 URL-safe sin
// padding.
func RandomToken(nBytes int) (string, error) {
	buf, err := SecureRandomBytes(nBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
