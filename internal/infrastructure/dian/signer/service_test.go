package signer_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/infrastructure/dian/signer"
)

func selfSignedTestCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Facturador de Prueba"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}
}

const sampleUBL = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2" xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2">
<ext:UBLExtensions>
<ext:UBLExtension><ext:ExtensionContent><Marker>proveedor</Marker></ext:ExtensionContent></ext:UBLExtension>
<ext:UBLExtension><ext:ExtensionContent></ext:ExtensionContent></ext:UBLExtension>
</ext:UBLExtensions>
<ID>SETP1</ID>
</Invoice>`

func TestSignThenVerify_Succeeds(t *testing.T) {
	svc := signer.NewService()
	cert := selfSignedTestCert(t)

	signed, err := svc.Sign([]byte(sampleUBL), cert)
	require.NoError(t, err)
	assert.Contains(t, string(signed), "ds:Signature")

	require.NoError(t, svc.Verify(signed))
}

func TestSign_RejectsEmptyDocument(t *testing.T) {
	svc := signer.NewService()
	cert := selfSignedTestCert(t)

	_, err := svc.Sign(nil, cert)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCrypto))
}

func TestSign_RejectsCertWithoutRSAKey(t *testing.T) {
	svc := signer.NewService()
	cert := selfSignedTestCert(t)
	cert.PrivateKey = "not-an-rsa-key"

	_, err := svc.Sign([]byte(sampleUBL), cert)
	require.Error(t, err)
	assert.Equal(t, signer.FailurePrivateKeyUnusableForRSA, err.(*domain.Error).Code)
}

func TestVerify_DetectsTamperedDocument(t *testing.T) {
	svc := signer.NewService()
	cert := selfSignedTestCert(t)

	signed, err := svc.Sign([]byte(sampleUBL), cert)
	require.NoError(t, err)

	tampered := strings.Replace(string(signed), "SETP1", "SETP2", 1)
	err = svc.Verify([]byte(tampered))
	require.Error(t, err)
	assert.Equal(t, signer.FailureDigestMismatch, err.(*domain.Error).Code)
}

func TestVerify_DetectsTamperedSignatureValue(t *testing.T) {
	svc := signer.NewService()
	cert := selfSignedTestCert(t)

	signed, err := svc.Sign([]byte(sampleUBL), cert)
	require.NoError(t, err)

	text := string(signed)
	idx := strings.Index(text, "<ds:SignatureValue>")
	require.Greater(t, idx, -1)
	valueStart := idx + len("<ds:SignatureValue>")
	flipped := text[:valueStart] + flipFirstBase64Char(text[valueStart:])

	err = svc.Verify([]byte(flipped))
	require.Error(t, err)
}

func flipFirstBase64Char(s string) string {
	if len(s) == 0 {
		return s
	}
	alt := byte('A')
	if s[0] == 'A' {
		alt = 'B'
	}
	return string(alt) + s[1:]
}

func TestVerify_FailsWithoutSignature(t *testing.T) {
	svc := signer.NewService()
	err := svc.Verify([]byte(sampleUBL))
	require.Error(t, err)
	assert.Equal(t, signer.FailureSignatureInvalid, err.(*domain.Error).Code)
}
