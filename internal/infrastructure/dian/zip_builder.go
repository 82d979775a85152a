// Package dian contiene la infraestructura de emisión: construcción UBL, firma
// XAdES, empaquetado ZIP y cliente SOAP contra los servicios de la DIAN.
package dian

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
)

// docCode mapea el tipo de documento al código de dos dígitos usado en el nombre del ZIP.
func docCode(dt entity.DocumentType) string {
	return string(dt)
}

// ArchiveFilename construye el nombre de archivo ZIP que la DIAN espera ver:
// z{nit_digits}{doc_code}{year}{seq left-padded a 10 dígitos}.zip
func ArchiveFilename(nitDigits string, dt entity.DocumentType, year int, seq int64) string {
	return fmt.Sprintf("z%s%s%04d%010d.zip", onlyDigits(nitDigits), docCode(dt), year, seq)
}

// InnerXMLFilename construye el nombre del único entry XML dentro del ZIP.
func InnerXMLFilename(prefix string, number int64) string {
	return fmt.Sprintf("face_f%s%d.xml", prefix, number)
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

// PackageToZip comprime xml bajo innerFilename con deflate estándar y mtime al instante
// UTC actual, y devuelve el resultado codificado en base64 estándar con padding, listo
// para el transporte SOAP.
func PackageToZip(xml []byte, innerFilename string, now time.Time) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	hdr := &zip.FileHeader{
		Name:     innerFilename,
		Method:   zip.Deflate,
		Modified: now.UTC(),
	}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return "", domain.NewCrypto("CryptoFailure::Internal", "create zip entry", err)
	}
	if _, err := fw.Write(xml); err != nil {
		return "", domain.NewCrypto("CryptoFailure::Internal", "write zip entry", err)
	}
	if err := zw.Close(); err != nil {
		return "", domain.NewCrypto("CryptoFailure::Internal", "close zip writer", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ExtractXMLFromZip es la inversa de PackageToZip: acepta un ZIP en base64 y devuelve
// el contenido del primer entry cuyo nombre termina en ".xml" (sin distinguir
// mayúsculas), usado para extraer el ApplicationResponse de la respuesta de la DIAN.
func ExtractXMLFromZip(base64Zip string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(base64Zip)
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "decode base64 zip", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.NewCrypto("CryptoFailure::Internal", "open zip archive", err)
	}
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			rc, err := f.Open()
			if err != nil {
				return nil, domain.NewCrypto("CryptoFailure::Internal", "open zip entry", err)
			}
			defer rc.Close()
			var out bytes.Buffer
			if _, err := out.ReadFrom(rc); err != nil {
				return nil, domain.NewCrypto("CryptoFailure::Internal", "read zip entry", err)
			}
			return out.Bytes(), nil
		}
	}
	return nil, domain.NewCrypto("CryptoFailure::Internal", "no .xml entry found in zip", nil)
}
