// Servicio de firma digital XAdES-EPES para factura electrónica DIAN (Anexo 1.9).
// Inyecta <ds:Signature> en el segundo <ext:ExtensionContent> del XML, envolvente
// (enveloped) sobre el documento completo.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/tintofe/einvoice-core/internal/domain"
)

// Service firma y verifica XML UBL con XAdES-EPES enveloped.
type Service struct{}

// NewService crea el servicio de firma.
func NewService() *Service {
	return &Service{}
}

// Sign firma xmlBytes e inyecta ds:Signature en el segundo ext:ExtensionContent.
// La Reference apunta a URI="" (el documento completo), con transform enveloped
// seguido de C14N; SignedInfo se canonicaliza por separado antes de firmarse con
// RSA-SHA256.
func (s *Service) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "XML vacío, nada que firmar", nil)
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, domain.NewCrypto(FailurePrivateKeyUnusableForRSA, "el certificado debe incluir llave privada RSA", nil)
	}
	if len(cert.Certificate) == 0 {
		return nil, domain.NewCrypto(FailureKeystoreUnreadable, "el certificado no tiene cadena", nil)
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, domain.NewCrypto(FailureKeystoreUnreadable, "parsear certificado X.509", err)
	}

	canonicalDoc, err := canonicalizeXML(xmlBytes)
	if err != nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "canonicalizar documento", err)
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "canonicalizar SignedInfo", err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, domain.NewCrypto(FailureSignatureInvalid, "firmar SignedInfo con RSA-SHA256", err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	signingTime := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	certDigestB64, issuerName, serialHex := CertDigestAndIssuerSerial(x509Cert)
	signatureXML := buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex)

	return injectSignature(xmlBytes, signatureXML)
}

// Verify recalcula el digest del documento (excluyendo ds:Signature, como exige el
// transform enveloped) y la firma RSA sobre SignedInfo, y compara contra los valores
// embebidos en signedXML. Reporta cuál de los dos no coincide, si alguno falla.
func (s *Service) Verify(signedXML []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return domain.NewCrypto(FailureCanonicalizationFailed, "parsear XML firmado", err)
	}
	root := doc.Root()
	if root == nil {
		return domain.NewCrypto(FailureCanonicalizationFailed, "documento sin raíz", nil)
	}

	sigElem := findSignatureElement(root)
	if sigElem == nil {
		return domain.NewCrypto(FailureSignatureInvalid, "no se encontró ds:Signature", nil)
	}

	digestValue := elementText(sigElem, "SignedInfo/Reference/DigestValue")
	sigValueB64 := elementText(sigElem, "SignatureValue")
	certB64 := elementText(sigElem, "KeyInfo/X509Data/X509Certificate")
	if digestValue == "" || sigValueB64 == "" || certB64 == "" {
		return domain.NewCrypto(FailureSignatureInvalid, "faltan DigestValue, SignatureValue o certificado", nil)
	}

	withoutSig := etree.NewDocument()
	if err := withoutSig.ReadFromBytes(signedXML); err != nil {
		return domain.NewCrypto(FailureCanonicalizationFailed, "reparsear XML firmado", err)
	}
	if rootCopy := withoutSig.Root(); rootCopy != nil {
		removeSignatureElement(rootCopy)
	}
	var buf bytes.Buffer
	if _, err := withoutSig.WriteTo(&buf); err != nil {
		return domain.NewCrypto(FailureCanonicalizationFailed, "serializar documento sin firma", err)
	}
	canonicalDoc, err := canonicalizeXML(buf.Bytes())
	if err != nil {
		return domain.NewCrypto(FailureCanonicalizationFailed, "canonicalizar documento sin firma", err)
	}
	gotDigest := sha256.Sum256(canonicalDoc)
	if base64.StdEncoding.EncodeToString(gotDigest[:]) != digestValue {
		return domain.NewCrypto(FailureDigestMismatch, "el digest del documento no coincide con DigestValue", nil)
	}

	signedInfoXML, err := extractCanonicalSignedInfo(sigElem)
	if err != nil {
		return domain.NewCrypto(FailureCanonicalizationFailed, "canonicalizar SignedInfo", err)
	}

	certRaw, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return domain.NewCrypto(FailureKeystoreUnreadable, "decodificar certificado embebido", err)
	}
	x509Cert, err := x509.ParseCertificate(certRaw)
	if err != nil {
		return domain.NewCrypto(FailureKeystoreUnreadable, "parsear certificado embebido", err)
	}
	pub, ok := x509Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return domain.NewCrypto(FailurePrivateKeyUnusableForRSA, "la llave pública del certificado no es RSA", nil)
	}

	sigValue, err := base64.StdEncoding.DecodeString(sigValueB64)
	if err != nil {
		return domain.NewCrypto(FailureSignatureInvalid, "decodificar SignatureValue", err)
	}
	signHash := sha256.Sum256(signedInfoXML)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signHash[:], sigValue); err != nil {
		return domain.NewCrypto(FailureSignatureInvalid, "la firma RSA no es válida", err)
	}
	return nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:SignedInfo xmlns:ds="` + NamespaceDS + `">`)
	sb.WriteString(`<ds:CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<ds:SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<ds:Reference URI="">`)
	sb.WriteString(`<ds:Transforms><ds:Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<ds:Transform Algorithm="` + AlgC14N + `"/></ds:Transforms>`)
	sb.WriteString(`<ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + docDigestB64 + `</ds:DigestValue>`)
	sb.WriteString(`</ds:Reference>`)
	sb.WriteString(`</ds:SignedInfo>`)
	return sb.String()
}

func buildFullSignature(signedInfoXML, signatureValueB64, certB64, signingTime, certDigestB64, issuerName, serialHex string) string {
	var sb strings.Builder
	sb.WriteString(`<ds:Signature xmlns:ds="` + NamespaceDS + `" xmlns:xades="` + NamespaceXAdES + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<ds:SignatureValue>` + signatureValueB64 + `</ds:SignatureValue>`)
	sb.WriteString(`<ds:KeyInfo><ds:X509Data><ds:X509Certificate>` + certB64 + `</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`)
	sb.WriteString(`<ds:Object><xades:QualifyingProperties>`)
	sb.WriteString(`<xades:SignedProperties Id="signed-props">`)
	sb.WriteString(`<xades:SignedSignatureProperties>`)
	sb.WriteString(`<xades:SigningTime>` + signingTime + `</xades:SigningTime>`)
	sb.WriteString(`<xades:SigningCertificate><xades:Cert><xades:CertDigest><ds:DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<ds:DigestValue>` + certDigestB64 + `</ds:DigestValue></xades:CertDigest>`)
	sb.WriteString(`<xades:IssuerSerial><ds:X509IssuerName>` + escapeXML(issuerName) + `</ds:X509IssuerName><ds:X509SerialNumber>` + serialHex + `</ds:X509SerialNumber></xades:IssuerSerial></xades:Cert></xades:SigningCertificate>`)
	sb.WriteString(`<xades:SignaturePolicyIdentifier><xades:SignaturePolicyId><xades:SigPolicyId><xades:Identifier>` + SignaturePolicyURLV2 + `</xades:Identifier></xades:SigPolicyId>`)
	if SigPolicyHashDigest != "" {
		sb.WriteString(`<xades:SigPolicyHash><ds:DigestMethod Algorithm="` + AlgSHA256 + `"/><ds:DigestValue>` + SigPolicyHashDigest + `</ds:DigestValue></xades:SigPolicyHash>`)
	}
	sb.WriteString(`</xades:SignaturePolicyId></xades:SignaturePolicyIdentifier>`)
	sb.WriteString(`</xades:SignedSignatureProperties></xades:SignedProperties></xades:QualifyingProperties></ds:Object>`)
	sb.WriteString(`</ds:Signature>`)
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func localName(tag string) string {
	if i := strings.Index(tag, ":"); i != -1 {
		return tag[i+1:]
	}
	return tag
}

func secondExtensionContent(root *etree.Element) *etree.Element {
	var ublExt *etree.Element
	for _, child := range root.ChildElements() {
		if localName(child.Tag) == "UBLExtensions" {
			ublExt = child
			break
		}
	}
	if ublExt == nil {
		return nil
	}
	var found *etree.Element
	var count int
	for _, ext := range ublExt.ChildElements() {
		if localName(ext.Tag) != "UBLExtension" {
			continue
		}
		for _, ec := range ext.ChildElements() {
			if localName(ec.Tag) != "ExtensionContent" {
				continue
			}
			count++
			if count == 2 {
				found = ec
			}
		}
	}
	return found
}

func injectSignature(xmlBytes []byte, signatureXML string) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "parsear XML a firmar", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "documento sin raíz", nil)
	}
	target := secondExtensionContent(root)
	if target == nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "no se encontró el segundo ext:ExtensionContent", nil)
	}
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "parsear ds:Signature generado", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		target.AddChild(sigRoot)
	}
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "serializar documento firmado", err)
	}
	return out.Bytes(), nil
}

func findSignatureElement(root *etree.Element) *etree.Element {
	var found *etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if found != nil {
			return
		}
		if localName(e.Tag) == "Signature" {
			found = e
			return
		}
		for _, c := range e.ChildElements() {
			walk(c)
		}
	}
	walk(root)
	return found
}

func removeSignatureElement(root *etree.Element) {
	sig := findSignatureElement(root)
	if sig == nil || sig.Parent() == nil {
		return
	}
	sig.Parent().RemoveChild(sig)
}

func elementText(sig *etree.Element, path string) string {
	parts := strings.Split(path, "/")
	cur := sig
	for _, part := range parts {
		var next *etree.Element
		for _, c := range cur.ChildElements() {
			if localName(c.Tag) == part {
				next = c
				break
			}
		}
		if next == nil {
			return ""
		}
		cur = next
	}
	return strings.TrimSpace(cur.Text())
}

func extractCanonicalSignedInfo(sig *etree.Element) ([]byte, error) {
	var signedInfo *etree.Element
	for _, c := range sig.ChildElements() {
		if localName(c.Tag) == "SignedInfo" {
			signedInfo = c
			break
		}
	}
	if signedInfo == nil {
		return nil, domain.NewCrypto(FailureCanonicalizationFailed, "ds:Signature sin SignedInfo", nil)
	}
	if parent := signedInfo.Parent(); parent != nil {
		parent.RemoveChild(signedInfo)
	}
	signedInfo.CreateAttr("xmlns:ds", NamespaceDS)
	standalone := etree.NewDocument()
	standalone.SetRoot(signedInfo)
	var buf bytes.Buffer
	if _, err := standalone.WriteTo(&buf); err != nil {
		return nil, err
	}
	return canonicalizeXML(buf.Bytes())
}
