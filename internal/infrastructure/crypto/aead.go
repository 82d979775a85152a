package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"

	"github.com/tintofe/einvoice-core/internal/domain"
)

const nonceSize = 12

// Encrypt cifra plaintext con AES-256-GCM bajo key, antepone el nonce de 12 bytes
// aleatorio al ciphertext, y codifica el resultado en base64 estándar con padding.
// Es el cifrado usado para toda columna sensible almacenada en la capa de persistencia.
func Encrypt(key [32]byte, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", domain.NewCrypto("CryptoFailure::Internal", "construir cifrador AES", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", domain.NewCrypto("CryptoFailure::Internal", "construir AEAD GCM", err)
	}
	nonce, err := SecureRandomBytes(nonceSize)
	if err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	out := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt invierte Encrypt. Una manipulación del ciphertext o una llave incorrecta
// produce CryptoFailure::AuthTagMismatch; cualquier otra falla (base64 corrupto,
// longitud insuficiente) produce CryptoFailure::Internal.
func Decrypt(key [32]byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "decodificar base64", err)
	}
	if len(raw) < nonceSize {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "ciphertext demasiado corto", nil)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "construir cifrador AES", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "construir AEAD GCM", err)
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::AuthTagMismatch", "la etiqueta de autenticación no coincide", err)
	}
	return plaintext, nil
}
