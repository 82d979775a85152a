package dian

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/pkg/dian"
)

// Namespaces oficiales UBL 2.1 y DIAN (Anexo Técnico 1.9).
const (
	NsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NsCac     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NsCbc     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NsExt     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NsSts     = "dian:gov:co:facturaelectronica:v1"
	NsDs      = "http://www.w3.org/2000/09/xmldsig#"
	NsXades   = "http://uri.etsi.org/01903/v1.3.2#"
	nsXsi     = "http://www.w3.org/2001/XMLSchema-instance"

	schemaLocationInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2 http://docs.oasis-open.org/ubl/os-UBL-2.1/xsd/maindoc/UBL-Invoice-2.1.xsd"
)

// BuildInvoiceXML construye el documento UBL 2.1 de la factura (aún sin firma XAdES),
// con el orden de hijos de Invoice fijo: extensiones, versión/perfil, ID, UUID (CUFE),
// fechas, tipo de documento, moneda, número de líneas, emisor, adquiriente, medio de
// pago, totales de impuesto y total legal, seguidos de una InvoiceLine por cada línea.
func BuildInvoiceXML(ctx *BuildContext) ([]byte, error) {
	if ctx == nil || ctx.Invoice == nil || ctx.Issuer == nil || ctx.Customer == nil {
		return nil, fmt.Errorf("dian: faltan invoice, issuer o customer en el contexto de construcción")
	}
	inv := ctx.Invoice

	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)

	root := xml.StartElement{
		Name: xml.Name{Local: "Invoice"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: NsInvoice},
			{Name: xml.Name{Local: "xmlns:cac"}, Value: NsCac},
			{Name: xml.Name{Local: "xmlns:cbc"}, Value: NsCbc},
			{Name: xml.Name{Local: "xmlns:ds"}, Value: NsDs},
			{Name: xml.Name{Local: "xmlns:ext"}, Value: NsExt},
			{Name: xml.Name{Local: "xmlns:sts"}, Value: NsSts},
			{Name: xml.Name{Local: "xmlns:xades"}, Value: NsXades},
			{Name: xml.Name{Local: "xmlns:xsi"}, Value: nsXsi},
			{Name: xml.Name{Space: nsXsi, Local: "schemaLocation"}, Value: schemaLocationInvoice},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	// 1. ext:UBLExtensions: un slot reservado vacío para el firmador y uno con los
	// identificadores del proveedor tecnológico.
	writeUBLExtensions(enc, ctx.Issuer)

	writeCbc(enc, "UBLVersionID", "UBL 2.1")
	writeCbc(enc, "CustomizationID", "10")
	writeCbc(enc, "ProfileID", "DIAN 2.1")
	writeCbc(enc, "ProfileExecutionID", "1")
	writeCbc(enc, "ID", inv.NumberString())

	writeWithAttr(enc, NsCbc, "UUID", inv.Fingerprint, "schemeName", "CUFE-SHA384")

	writeCbc(enc, "IssueDate", inv.IssueDate.Format("2006-01-02"))
	writeCbc(enc, "IssueTime", inv.EffectiveIssueTime().Format("15:04:05-07:00"))
	if inv.DueDate != nil {
		writeCbc(enc, "DueDate", inv.DueDate.Format("2006-01-02"))
	}

	writeCbc(enc, "InvoiceTypeCode", string(documentTypeCode(inv.DocumentType)))
	writeCbc(enc, "DocumentCurrencyCode", currencyOrDefault(inv.Currency))
	writeCbc(enc, "LineCountNumeric", strconv.Itoa(len(inv.Lines)))

	writeParty(enc, "AccountingSupplierParty", ctx.Issuer.IDType, ctx.Issuer.IDNumber, ctx.Issuer.LegalName, ctx.Issuer.Address, true)
	writeParty(enc, "AccountingCustomerParty", ctx.Customer.IDType, ctx.Customer.IDNumber, ctx.Customer.LegalName, ctx.Customer.Address, false)

	writePaymentMeans(enc, inv)
	writeTaxTotal(enc, inv)
	writeLegalMonetaryTotal(enc, inv, currencyOrDefault(inv.Currency))

	for _, line := range inv.Lines {
		writeInvoiceLine(enc, line, currencyOrDefault(inv.Currency))
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	return buf.Bytes(), enc.Flush()
}

func documentTypeCode(dt entity.DocumentType) entity.DocumentType {
	if dt == "" {
		return entity.DocumentTypeInvoice
	}
	return dt
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "COP"
	}
	return c
}

func writeCbc(enc *xml.Encoder, local, value string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCbc, Local: local}})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

func writeWithAttr(enc *xml.Encoder, ns, local, value, attrLocal, attrValue string) {
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Space: ns, Local: local},
		Attr: []xml.Attr{{Name: xml.Name{Local: attrLocal}, Value: attrValue}},
	})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: ns, Local: local}})
}

func writeCbcAmount(enc *xml.Encoder, local string, minor int64, currency string) {
	_ = enc.EncodeToken(xml.StartElement{
		Name: xml.Name{Space: NsCbc, Local: local},
		Attr: []xml.Attr{{Name: xml.Name{Local: "currencyID"}, Value: currency}},
	})
	_ = enc.EncodeToken(xml.CharData(formatMinorAmount(minor)))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCbc, Local: local}})
}

// writeUBLExtensions escribe siempre ext:UBLExtensions como primer hijo de Invoice:
// el primer slot lleva los identificadores del proveedor tecnológico que emite la
// factura; el segundo queda vacío para que el firmador inyecte ds:Signature.
func writeUBLExtensions(enc *xml.Encoder, issuer *entity.Issuer) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtensions"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsSts, Local: "DianExtensions"}})
	writeSts(enc, "SoftwareProviderID", issuer.SoftwareProviderID)
	writeSts(enc, "SoftwareID", issuer.SoftwareID)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsSts, Local: "DianExtensions"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "ExtensionContent"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtension"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsExt, Local: "UBLExtensions"}})
}

func writeSts(enc *xml.Encoder, local, value string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsSts, Local: local}})
	_ = enc.EncodeToken(xml.CharData(value))
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsSts, Local: local}})
}

// writeParty escribe el bloque cac:Party común a emisor y adquiriente: identificación,
// régimen tributario (siempre "01"/"IVA" por ahora, ver Open Questions) y razón social.
// includeLegalEntity añade cac:PartyLegalEntity, que la DIAN sólo exige del emisor.
func writeParty(enc *xml.Encoder, wrapper string, idType entity.IdentificationType, idNumber, legalName string, address *string, includeLegalEntity bool) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: wrapper}})
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Party"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyIdentification"}})
	writeWithAttr(enc, NsCbc, "ID", idNumber, "schemeID", idType.DianCode())
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyIdentification"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyName"}})
	writeCbc(enc, "Name", legalName)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyName"}})

	if address != nil && *address != "" {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PostalAddress"}})
		writeCbc(enc, "StreetName", *address)
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PostalAddress"}})
	}

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyTaxScheme"}})
	writeCbc(enc, "RegistrationName", legalName)
	writeWithAttr(enc, NsCbc, "CompanyID", idNumber, "schemeID", idType.DianCode())
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
	writeCbc(enc, "ID", "01")
	writeCbc(enc, "Name", "IVA")
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyTaxScheme"}})

	if includeLegalEntity {
		_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})
		writeCbc(enc, "RegistrationName", legalName)
		writeWithAttr(enc, NsCbc, "CompanyID", idNumber, "schemeID", idType.DianCode())
		_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PartyLegalEntity"}})
	}

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Party"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: wrapper}})
}

// writePaymentMeans asume pago de contado (ID="1", PaymentMeansCode="10") salvo que la
// factura registre fecha de vencimiento, en cuyo caso añade PaymentDueDate.
func writePaymentMeans(enc *xml.Encoder, inv *entity.Invoice) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "PaymentMeans"}})
	writeCbc(enc, "ID", dian.PaymentFormContado)
	writeCbc(enc, "PaymentMeansCode", dian.PaymentMethodEfectivo)
	if inv.DueDate != nil {
		writeCbc(enc, "PaymentDueDate", inv.DueDate.Format("2006-01-02"))
	}
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "PaymentMeans"}})
}

func writeTaxTotal(enc *xml.Encoder, inv *entity.Invoice) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})
	writeCbcAmount(enc, "TaxAmount", inv.TaxMinor, currencyOrDefault(inv.Currency))

	for _, code := range dian.TaxCodeOrder {
		for _, t := range inv.Taxes {
			if t.Code != code {
				continue
			}
			_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxSubtotal"}})
			writeCbcAmount(enc, "TaxableAmount", t.TaxableBaseMinor, currencyOrDefault(inv.Currency))
			writeCbcAmount(enc, "TaxAmount", t.AmountMinor, currencyOrDefault(inv.Currency))
			_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxCategory"}})
			_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
			writeCbc(enc, "ID", t.Code)
			writeCbc(enc, "Name", dian.TaxSchemeName[t.Code])
			_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxScheme"}})
			_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxCategory"}})
			_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxSubtotal"}})
			break
		}
	}
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "TaxTotal"}})
}

func writeLegalMonetaryTotal(enc *xml.Encoder, inv *entity.Invoice, currency string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "LegalMonetaryTotal"}})
	writeCbcAmount(enc, "LineExtensionAmount", inv.SubtotalMinor, currency)
	writeCbcAmount(enc, "TaxExclusiveAmount", inv.SubtotalMinor, currency)
	writeCbcAmount(enc, "TaxInclusiveAmount", inv.TotalMinor, currency)
	writeCbcAmount(enc, "PayableAmount", inv.TotalMinor, currency)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "LegalMonetaryTotal"}})
}

func writeInvoiceLine(enc *xml.Encoder, line entity.LineItem, currency string) {
	unitCode := line.UnitCode
	if unitCode == "" {
		unitCode = dian.UnitUnit
	}
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "InvoiceLine"}})
	writeCbc(enc, "ID", strconv.Itoa(line.LineNumber))
	writeWithAttr(enc, NsCbc, "InvoicedQuantity", line.Quantity.StringFixed(4), "unitCode", unitCode)
	writeCbcAmount(enc, "LineExtensionAmount", line.LineTotalMinor, currency)

	productCode := line.ProductCode
	if productCode == "" {
		productCode = "999"
	}
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Item"}})
	writeCbc(enc, "Description", line.Description)
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "StandardItemIdentification"}})
	writeCbc(enc, "ID", productCode)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "StandardItemIdentification"}})
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Item"}})

	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Space: NsCac, Local: "Price"}})
	writeCbcAmount(enc, "PriceAmount", line.UnitPriceMinor, currency)
	writeWithAttr(enc, NsCbc, "BaseQuantity", "1", "unitCode", unitCode)
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "Price"}})

	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Space: NsCac, Local: "InvoiceLine"}})
}

// formatMinorAmount renderiza un monto en unidades menores como entero + '.' + 2
// decimales, igual que la cadena de insumo del CUFE.
func formatMinorAmount(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	s := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if neg {
		s = "-" + s
	}
	return s
}
