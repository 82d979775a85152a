package entity

import "time"

// IdentificationType son los tipos de documento de identidad que reconoce la DIAN.
type IdentificationType string

const (
	IDTypeNIT        IdentificationType = "NIT"
	IDTypeCC         IdentificationType = "CC"
	IDTypeCE         IdentificationType = "CE"
	IDTypePassport   IdentificationType = "PA"
	IDTypeForeignDoc IdentificationType = "DIE"
	IDTypeForeignNIT IdentificationType = "FOREIGN_NIT"
)

// DianCode mapea el tipo de identificación al código catálogo de dos dígitos de la DIAN.
// Desconocido cae a NIT (31) por ser el valor por defecto documentado en el algoritmo del CUFE.
func (t IdentificationType) DianCode() string {
	switch t {
	case IDTypeNIT:
		return "31"
	case IDTypeCC:
		return "13"
	case IDTypeCE:
		return "22"
	case IDTypePassport:
		return "41"
	case IDTypeForeignDoc:
		return "42"
	case IDTypeForeignNIT:
		return "50"
	default:
		return "31"
	}
}

// Issuer es el emisor de las facturas: la empresa con resolución de facturación DIAN.
type Issuer struct {
	ID         string
	IDType     IdentificationType
	IDNumber   string
	LegalName  string
	Address    *string
	City       *string
	Department *string
	Country    string

	ContactEmail *string

	EncryptedCertificate  string // PKCS#12 o PEM cifrado con la llave maestra, base64
	CertificatePassword   string // cifrada igual que el certificado
	CertificateExpiresAt  *time.Time
	TechnicalKey          string // clave técnica de la resolución DIAN, insumo del CUFE
	SoftwareID            string
	SoftwareProviderID    string
	SoftwarePIN           string

	CreatedAt time.Time
	UpdatedAt time.Time
}
