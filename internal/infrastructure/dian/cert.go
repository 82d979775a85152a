package dian

import (
	"crypto/rsa"
	"crypto/tls"

	"golang.org/x/crypto/pkcs12"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/infrastructure/dian/signer"
)

// LoadCertFromBytes parsea un certificado de firma DIAN ya descifrado en memoria
// (el almacén p12 que viene del campo EncryptedCertificate del emisor, tras
// descifrarlo con la llave maestra vía crypto.Decrypt), sin tocar el disco.
func LoadCertFromBytes(p12 []byte, password string) (tls.Certificate, error) {
	priv, cert, err := pkcs12.Decode(p12, password)
	if err != nil {
		return tls.Certificate{}, domain.NewCrypto(signer.FailureKeystoreUnreadable, "decodificar certificado del emisor", err)
	}
	if _, ok := priv.(*rsa.PrivateKey); !ok {
		return tls.Certificate{}, domain.NewCrypto(signer.FailurePrivateKeyUnusableForRSA, "la llave privada del emisor no es RSA", nil)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}
