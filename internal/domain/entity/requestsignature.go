package entity

import "time"

// RequestSignature es el registro de protección contra repetición de peticiones
// firmadas: su clave única (signature, timestamp) convierte la inserción en el
// punto de serialización atómico que detecta una repetición.
type RequestSignature struct {
	ID               string
	ApiKeyID         string
	SignatureDigest  string
	Method           string
	Path             string
	RequestTimestamp time.Time
}
