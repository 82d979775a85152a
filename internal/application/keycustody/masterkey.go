// Package keycustody implementa la carga de la llave maestra restringida a
// acceso de consola y la derivación de llaves de API a partir de ella.
package keycustody

import (
	"encoding/base64"
	"time"

	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"

	"github.com/tintofe/einvoice-core/internal/domain"
)

// MasterKey es la credencial raíz de proceso, inmutable tras su carga y segura para
// lectura concurrente. Nunca se serializa ni se expone por red.
type MasterKey struct {
	material [32]byte
	loadedAt time.Time
}

// Material devuelve la llave de 32 bytes en memoria. La usan este paquete (Derive,
// Reveal) y el orquestador de emisión para cifrar y descifrar los blobs persistidos;
// ningún llamador debe retener la copia más allá de la operación en curso.
func (m *MasterKey) Material() [32]byte { return m.material }

// LoadedAt es el instante en que la llave fue descifrada en memoria.
func (m *MasterKey) LoadedAt() time.Time { return m.loadedAt }

// LoadConfig describe de dónde provienen el discriminador de consola, la llave de
// sistema y el archivo cifrado, por nombre de variable de entorno y ruta.
type LoadConfig struct {
	ConsoleAccessEnv  string // variable cuya sola presencia habilita el acceso de consola
	SystemKeyEnv      string // variable con la llave de sistema en base64
	MasterKeyFilePath string
}

// Load carga y descifra la llave maestra. getenv y readFile se inyectan para poder
// verificar en pruebas que, cuando el discriminador de consola está ausente, no se
// toca el sistema de archivos.
func Load(cfg LoadConfig, getenv func(string) string, readFile func(string) ([]byte, error)) (*MasterKey, error) {
	if getenv(cfg.ConsoleAccessEnv) == "" {
		return nil, domain.NewAuth("Security::ConsoleOnly", "master key operations require direct console access")
	}

	systemKeyB64 := getenv(cfg.SystemKeyEnv)
	if systemKeyB64 == "" {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "system key environment variable is not set", nil)
	}
	systemKeyRaw, err := base64.StdEncoding.DecodeString(systemKeyB64)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "system key is not valid base64", err)
	}
	if len(systemKeyRaw) != 32 {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "system key must decode to 32 bytes", nil)
	}
	var systemKey [32]byte
	copy(systemKey[:], systemKeyRaw)

	blob, err := readFile(cfg.MasterKeyFilePath)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "read master key file", err)
	}

	plaintext, err := icrypto.Decrypt(systemKey, string(blob))
	if err != nil {
		return nil, err
	}
	if len(plaintext) != 32 {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "decrypted master key is not 32 bytes", nil)
	}

	mk := &MasterKey{loadedAt: time.Now()}
	copy(mk.material[:], plaintext)
	return mk, nil
}

// Seal produce el blob cifrado que Load espera encontrar en MasterKeyFilePath, a
// partir de los 32 bytes de material de la llave maestra y la llave de sistema. Es
// la contraparte de Load, usada por cmd/keytool al aprovisionar una instalación nueva.
func Seal(systemKey [32]byte, masterKeyMaterial [32]byte) (string, error) {
	return icrypto.Encrypt(systemKey, masterKeyMaterial[:])
}
