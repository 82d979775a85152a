// Carga de certificado desde .p12 (PKCS#12) o par PEM.

package signer

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/tintofe/einvoice-core/internal/domain"
)

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx, tal como
// la DIAN entrega los certificados de facturación electrónica. El password puede ser
// vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, domain.NewCrypto(FailureKeystoreUnreadable, "leer almacén de llaves p12", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, domain.NewCrypto(FailureKeystoreUnreadable, "decodificar almacén de llaves p12", err)
	}
	if _, ok := priv.(*rsa.PrivateKey); !ok {
		return tls.Certificate{}, domain.NewCrypto(FailurePrivateKeyUnusableForRSA, "la llave privada del p12 no es RSA", nil)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (certificado y llave por
// separado, o combinados en un solo archivo).
func LoadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, domain.NewCrypto(FailureKeystoreUnreadable, "cargar certificado PEM", err)
	}
	if _, ok := cert.PrivateKey.(*rsa.PrivateKey); !ok {
		return tls.Certificate{}, domain.NewCrypto(FailurePrivateKeyUnusableForRSA, "la llave privada del PEM no es RSA", nil)
	}
	return cert, nil
}

// CertDigestAndIssuerSerial devuelve el digest SHA-256 del certificado (Base64) y el
// emisor/serial en hex, insumos de xades:SigningCertificate e xades:IssuerSerial.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64, issuerName, serialHex string) {
	h := sha256.Sum256(cert.Raw)
	digestB64 = base64.StdEncoding.EncodeToString(h[:])
	issuerName = cert.Issuer.String()
	serialHex = cert.SerialNumber.Text(16)
	return digestB64, issuerName, serialHex
}
