package crypto

import "crypto/subtle"

// ConstantTimeEqual compara dos cadenas sin filtrar por temporización en qué posición
// difieren, usado en la validación de firmas de petición entrante.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
