// Package dian implementa el cálculo del CUFE/CUDE y las validaciones de factura
// que no dependen de infraestructura (XML, SOAP, almacenamiento).
package dian

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tintofe/einvoice-core/pkg/dian"
)

// TaxField es una de las entradas de impuesto que entran a la cadena del CUFE, en el
// orden fijo IVA, INC, ICA; un impuesto ausente simplemente no aparece en la lista.
type TaxField struct {
	Code             string // "01", "04" o "03"
	AmountMinor      int64
	TaxableBaseMinor int64
}

// CufeParams son los insumos del cómputo del CUFE, ya resueltos por el llamador
// (sin acceso a infraestructura).
type CufeParams struct {
	InvoiceNumber      string // {prefix}{number}, sin separador
	IssueDate          time.Time
	IssueTime          time.Time // hora local -05:00; el llamador resuelve el marcador determinista si no hay hora real
	SubtotalMinor      int64
	Taxes              []TaxField
	GrandTotalMinor    int64
	IssuerIDDigits     string // solo dígitos, sin dígito de verificación
	CustomerIDTypeCode string // código DIAN de dos dígitos, ver entity.IdentificationType.DianCode
	CustomerIDNumber   string
	TechnicalKey       string
	Production         bool
}

var errMissingField = errors.New("dian: campo obligatorio ausente para el cálculo del CUFE")

func (p CufeParams) validate() error {
	if p.InvoiceNumber == "" {
		return fmt.Errorf("%w: InvoiceNumber", errMissingField)
	}
	if onlyDigits(p.IssuerIDDigits) == "" {
		return fmt.Errorf("%w: IssuerIDDigits", errMissingField)
	}
	if p.CustomerIDNumber == "" {
		return fmt.Errorf("%w: CustomerIDNumber", errMissingField)
	}
	if p.TechnicalKey == "" {
		return fmt.Errorf("%w: TechnicalKey", errMissingField)
	}
	return nil
}

// Calculate produce el CUFE (o, para notas crédito/débito, el CUDE: el mismo algoritmo
// aplicado al mismo conjunto de campos) como hex en minúsculas de SHA-384(input).
func Calculate(p CufeParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	input := buildCufeInput(p)
	sum := sha512.Sum384([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}

func buildCufeInput(p CufeParams) string {
	var b []byte
	b = append(b, p.InvoiceNumber...)
	b = append(b, p.IssueDate.Format("20060102")...)
	b = append(b, p.IssueTime.Format("150405")...)
	b = append(b, formatMinor(p.SubtotalMinor)...)

	for _, code := range dian.TaxCodeOrder {
		for _, t := range p.Taxes {
			if t.Code == code {
				b = append(b, t.Code...)
				b = append(b, formatMinor(t.AmountMinor)...)
				b = append(b, formatMinor(t.TaxableBaseMinor)...)
				break
			}
		}
	}

	b = append(b, formatMinor(p.GrandTotalMinor)...)
	b = append(b, onlyDigits(p.IssuerIDDigits)...)
	b = append(b, p.CustomerIDTypeCode...)
	b = append(b, p.CustomerIDNumber...)
	b = append(b, p.TechnicalKey...)
	if p.Production {
		b = append(b, '1')
	} else {
		b = append(b, '2')
	}
	return string(b)
}

// Verify recalcula el CUFE a partir de los mismos parámetros y compara contra want.
// No hay secreto involucrado (es una huella pública), así que una comparación directa
// de cadenas es suficiente; no se requiere tiempo constante.
func Verify(p CufeParams, want string) (bool, error) {
	got, err := Calculate(p)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

var cufePattern = regexp.MustCompile(`^[0-9a-f]{96}$`)

// Validate comprueba la forma léxica de un CUFE/CUDE: 96 caracteres hexadecimales en minúsculas.
func Validate(fingerprint string) bool {
	return cufePattern.MatchString(fingerprint)
}

// formatMinor renderiza un monto en unidades menores como entero + '.' + 2 decimales,
// sin separador de miles, tal como la DIAN exige en la cadena de insumo del CUFE.
func formatMinor(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	whole := minor / 100
	frac := minor % 100
	s := fmt.Sprintf("%d.%02d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

func onlyDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
