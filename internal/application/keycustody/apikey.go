package keycustody

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"
)

// KDFMode selecciona el algoritmo de derivación del secreto crudo. Habilitacion
// implementa el algoritmo ligero basado en truncado de SHA-512, adecuado sólo para el
// ambiente de pruebas DIAN; Produccion lo sustituye por Argon2id con sal por instalación,
// resistente a ataques por hardware dedicado.
type KDFMode int

const (
	KDFHabilitacion KDFMode = iota
	KDFProduccion
)

const (
	argon2Time    = 1
	argon2MemoryKB = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// DerivedKey es el resultado de una derivación: el secreto crudo (a surgir exactamente
// una vez), su huella de búsqueda y el blob cifrado que se persiste.
type DerivedKey struct {
	RawSecret       string
	Fingerprint     string
	EncryptedSecret string
}

// Derive calcula una nueva credencial de API: el secreto crudo son los primeros 64
// caracteres hex de SHA-512(master || ":" || name || ":" || role || ":" || epochMs)
// en modo Habilitacion, o la misma entrada pasada por Argon2id con installSalt en
// modo Produccion. El fingerprint de búsqueda es siempre SHA-512(raw) completo (128
// hex). El blob almacenado cifra raw bajo la llave maestra para poder mostrarlo una
// sola vez, en el momento de su creación.
func Derive(mk *MasterKey, mode KDFMode, name string, role entity.ApiKeyRole, epochMs int64, installSalt []byte) (*DerivedKey, error) {
	if !entity.ValidRole(role) {
		return nil, domain.NewValidation("InvalidRole", "role must be ADMIN, OPERATOR or AUDITOR")
	}
	material := mk.Material()
	input := fmt.Sprintf("%x:%s:%s:%d", material, name, role, epochMs)

	var raw string
	switch mode {
	case KDFHabilitacion:
		raw = icrypto.SHA512Hex([]byte(input))[:64]
	case KDFProduccion:
		if len(installSalt) < 16 {
			return nil, domain.NewCrypto("CryptoFailure::Internal", "production key derivation requires a per-install salt of at least 16 bytes", nil)
		}
		derived := argon2.IDKey([]byte(input), installSalt, argon2Time, argon2MemoryKB, argon2Threads, argon2KeyLen)
		raw = hex.EncodeToString(derived)
	default:
		return nil, domain.NewValidation("InvalidKDFMode", "unknown key derivation mode")
	}

	fingerprint := icrypto.SHA512Hex([]byte(raw))
	encrypted, err := icrypto.Encrypt(material, []byte(raw))
	if err != nil {
		return nil, err
	}

	return &DerivedKey{RawSecret: raw, Fingerprint: fingerprint, EncryptedSecret: encrypted}, nil
}

// Reveal descifra el secreto crudo almacenado de una ApiKey bajo la llave maestra.
// Sólo debe usarse en la ruta de administración de consola, nunca en la validación
// de peticiones en caliente (que compara fingerprints, no secretos en claro).
func Reveal(mk *MasterKey, encryptedSecret string) (string, error) {
	plaintext, err := icrypto.Decrypt(mk.Material(), encryptedSecret)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
