// Package issuance orquesta el ciclo de vida completo de una factura electrónica:
// cómputo del CUFE, construcción UBL, firma, empaquetado y entrega ante la DIAN, y
// el seguimiento de su estado.
package issuance

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/tintofe/einvoice-core/internal/application/errormap"
	"github.com/tintofe/einvoice-core/internal/application/keycustody"
	"github.com/tintofe/einvoice-core/internal/domain"
	domaindian "github.com/tintofe/einvoice-core/internal/domain/dian"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/internal/domain/repository"
	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"
	infradian "github.com/tintofe/einvoice-core/internal/infrastructure/dian"
	"github.com/tintofe/einvoice-core/internal/infrastructure/dian/signer"
	"github.com/tintofe/einvoice-core/pkg/logger"
)

// Clock se inyecta para que las pruebas controlen "now" sin dormir de verdad.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock es el reloj de producción por defecto.
var SystemClock Clock = systemClock{}

// Client es el subconjunto del cliente SOAP DIAN que el orquestador necesita, reducido
// a funciones para que las pruebas puedan sustituirlo sin un servidor SOAP real.
type Client struct {
	SendBillAsyncFn    func(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*infradian.AsyncResponse, error)
	SendTestSetAsyncFn func(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*infradian.AsyncResponse, error)
	GetStatusZipFn     func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error)
}

func (c *Client) sendBill(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*infradian.AsyncResponse, error) {
	return c.SendBillAsyncFn(ctx, endpoint, softwareID, softwarePIN, filename, zipBase64)
}

func (c *Client) sendTestSet(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*infradian.AsyncResponse, error) {
	return c.SendTestSetAsyncFn(ctx, endpoint, softwareID, softwarePIN, filename, zipBase64)
}

func (c *Client) getStatus(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
	return c.GetStatusZipFn(ctx, endpoint, softwareID, softwarePIN, trackID)
}

// NewClientFromSOAP adapta *infradian.Client a la forma reducida que usa el orquestador.
func NewClientFromSOAP(c *infradian.Client) *Client {
	return &Client{
		SendBillAsyncFn:    c.SendBillAsync,
		SendTestSetAsyncFn: c.SendTestSetAsync,
		GetStatusZipFn:     c.GetStatusZip,
	}
}

// Orchestrator coordina repositorios, criptografía y el cliente SOAP: es la máquina de
// estados central que lleva una factura de DRAFT a resuelta ante la DIAN.
type Orchestrator struct {
	Invoices     repository.InvoiceRepository
	Submissions  repository.SubmissionRepository
	Issuers      repository.IssuerRepository
	Customers    repository.CustomerRepository
	Environments repository.EnvironmentRepository

	MasterKey *keycustody.MasterKey
	Signer    *signer.Service
	Client    *Client
	Clock     Clock
	Log       *logger.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock.Now()
	}
	return SystemClock.Now()
}

// Submit lleva una factura hasta su entrega ante la DIAN. Es la operación central del
// sistema y reconstruye, en cada llamada, todo lo que depende de los datos actuales de
// la factura — el CUFE es una función pura de esos datos, así que recomputarlo en cada
// intento es gratis y hace que un reintento tras un ERROR no dependa de estado a medio
// escribir de una corrida anterior:
//
//  1. Si existe un envío previo no terminal para esta factura, se devuelve sin reenviar.
//  2. Calcula el CUFE con los datos actuales de emisor, adquiriente y totales.
//  3. Construye el XML UBL 2.1 y lo cifra antes de firmarlo.
//  4. Firma el documento con el certificado del emisor (XAdES-EPES).
//  5. Empaqueta el XML firmado en el ZIP que exige la DIAN.
//  6. Entrega el ZIP vía SendBillAsync en producción o SendTestSetAsync en habilitación.
//  7. En éxito, marca el envío SUBMITTED con el track id y la factura
//     SUBMITTED_TO_DIAN. En fallo conocido de la DIAN o de transporte, marca el envío
//     ERROR preservando el fallo tipado, y deja la factura en SIGNED para reintentar.
func (o *Orchestrator) Submit(ctx context.Context, invoiceID string) (*entity.Submission, error) {
	inv, err := o.Invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status.Terminal() {
		return nil, domain.ErrIllegalStateTransition
	}
	originalInvoiceStatus := inv.Status

	if existing, err := o.Submissions.FindLatestByInvoiceID(ctx, invoiceID); err != nil {
		return nil, err
	} else if existing != nil && !existing.Status.Terminal() {
		return existing, nil
	}

	now := o.now()
	sub := &entity.Submission{
		InvoiceID:     invoiceID,
		EnvironmentID: inv.EnvironmentID,
		Status:        entity.SubmissionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	subID, err := o.Submissions.Insert(ctx, sub)
	if err != nil {
		return nil, err
	}
	sub.ID = subID

	issuer, err := o.Issuers.FindByID(ctx, inv.IssuerID)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	customer, err := o.Customers.FindByID(ctx, inv.CustomerID)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	env, err := o.Environments.FindByID(ctx, inv.EnvironmentID)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}

	if err := o.computeFingerprint(inv, issuer, customer, env); err != nil {
		return o.abortSubmission(ctx, sub, err)
	}

	ublXML, err := infradian.BuildInvoiceXML(&infradian.BuildContext{Invoice: inv, Issuer: issuer, Customer: customer})
	if err != nil {
		return o.abortSubmission(ctx, sub, domain.NewBusinessRule("UblBuildFailure", err.Error()))
	}
	encryptedUBL, err := icrypto.Encrypt(o.MasterKey.Material(), ublXML)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	inv.EncryptedUBL = encryptedUBL
	if inv.Status == entity.InvoiceStatusDraft {
		inv.Status = entity.InvoiceStatusPendingSignature
	}

	cert, err := o.loadIssuerCert(issuer)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	signedXML, err := o.Signer.Sign(ublXML, cert)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	encryptedSigned, err := icrypto.Encrypt(o.MasterKey.Material(), signedXML)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	inv.EncryptedSignedXML = encryptedSigned
	inv.Status = entity.InvoiceStatusSigned

	if err := o.Invoices.UpdateSignedContent(ctx, invoiceID, originalInvoiceStatus, inv.Status, inv.Fingerprint, inv.EncryptedUBL, inv.EncryptedSignedXML); err != nil {
		return o.abortSubmission(ctx, sub, err)
	}

	innerName := infradian.InnerXMLFilename(inv.Prefix, inv.Number)
	zipBase64, err := infradian.PackageToZip(signedXML, innerName, now)
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	encryptedZip, err := icrypto.Encrypt(o.MasterKey.Material(), []byte(zipBase64))
	if err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	if err := o.Submissions.UpdateRequestZip(ctx, sub.ID, encryptedZip); err != nil {
		return o.abortSubmission(ctx, sub, err)
	}
	sub.EncryptedRequestZip = encryptedZip

	archiveName := infradian.ArchiveFilename(issuer.IDNumber, inv.DocumentType, inv.IssueDate.Year(), inv.Number)
	var resp *infradian.AsyncResponse
	var sendErr error
	if env.Production {
		resp, sendErr = o.Client.sendBill(ctx, env.SOAPEndpoint, issuer.SoftwareID, issuer.SoftwarePIN, archiveName, zipBase64)
	} else {
		resp, sendErr = o.Client.sendTestSet(ctx, env.SOAPEndpoint, issuer.SoftwareID, issuer.SoftwarePIN, archiveName, zipBase64)
	}

	if sendErr != nil || !resp.Success || resp.TrackID == "" {
		code, msg := classifySendFailure(resp, sendErr)
		if err := o.Submissions.UpdateStatus(ctx, sub.ID, entity.SubmissionStatusPending, entity.SubmissionStatusError); err != nil {
			return nil, err
		}
		_ = o.Submissions.UpdateDianResult(ctx, sub.ID, nil, "", &code, &msg)
		sub.Status = entity.SubmissionStatusError
		sub.DianErrorCode, sub.DianErrorMessage = &code, &msg
		if o.Log != nil {
			o.Log.ForInvoice(invoiceID).Warn().Str("code", code).Str("message", msg).Msg("envío a la DIAN falló")
		}
		return sub, domain.NewUpstream("DianSubmitFailure", msg, sendErr)
	}

	if err := o.Submissions.UpdateStatus(ctx, sub.ID, entity.SubmissionStatusPending, entity.SubmissionStatusSubmitted); err != nil {
		return nil, err
	}
	submittedAt := now
	if err := o.Submissions.UpdateDianResult(ctx, sub.ID, &resp.TrackID, "", nil, nil); err != nil {
		return nil, err
	}
	sub.Status = entity.SubmissionStatusSubmitted
	sub.TrackID = &resp.TrackID
	sub.SubmittedAt = &submittedAt

	if err := o.Invoices.UpdateStatus(ctx, invoiceID, entity.InvoiceStatusSigned, entity.InvoiceStatusSubmittedToDian); err != nil {
		return nil, err
	}

	if o.Log != nil {
		o.Log.ForInvoice(invoiceID).Info().Str("track_id", resp.TrackID).Msg("factura entregada a la DIAN")
	}
	return sub, nil
}

// abortSubmission persiste el envío en ERROR con el mensaje de la falla que lo
// interrumpió, para que ningún fallo posterior a la creación del registro de envío
// pueda dejarlo en PENDING sin explicación. Devuelve el envío actualizado junto con el
// error original, igual que la rama de fallo de SendBillAsync/SendTestSetAsync.
func (o *Orchestrator) abortSubmission(ctx context.Context, sub *entity.Submission, cause error) (*entity.Submission, error) {
	code := "SubmitFailure"
	if derr, ok := cause.(*domain.Error); ok {
		code = derr.Code
	}
	msg := cause.Error()
	if err := o.Submissions.UpdateStatus(ctx, sub.ID, entity.SubmissionStatusPending, entity.SubmissionStatusError); err != nil {
		return nil, err
	}
	_ = o.Submissions.UpdateDianResult(ctx, sub.ID, nil, "", &code, &msg)
	sub.Status = entity.SubmissionStatusError
	sub.DianErrorCode, sub.DianErrorMessage = &code, &msg
	if o.Log != nil {
		o.Log.ForInvoice(sub.InvoiceID).Warn().Str("code", code).Err(cause).Msg("emisión interrumpida, envío marcado ERROR")
	}
	return sub, cause
}

func classifySendFailure(resp *infradian.AsyncResponse, sendErr error) (code, message string) {
	if sendErr != nil {
		if fault, ok := sendErr.(*infradian.SoapFaultError); ok {
			return fault.Code, fault.Message
		}
		return "TRANSPORT", sendErr.Error()
	}
	return resp.ErrorCode, resp.ErrorMessage
}

func (o *Orchestrator) computeFingerprint(inv *entity.Invoice, issuer *entity.Issuer, customer *entity.Customer, env *entity.Environment) error {
	taxFields := make([]domaindian.TaxField, 0, len(inv.Taxes))
	for _, t := range inv.Taxes {
		taxFields = append(taxFields, domaindian.TaxField{Code: t.Code, AmountMinor: t.AmountMinor, TaxableBaseMinor: t.TaxableBaseMinor})
	}
	// El CUFE lleva el NIT del emisor sin dígito de verificación: un NIT guardado con
	// sus 10 dígitos (9 base + verificación) se recorta a los 9 de la base.
	issuerDigits := make([]rune, 0, len(issuer.IDNumber))
	for _, r := range issuer.IDNumber {
		if r >= '0' && r <= '9' {
			issuerDigits = append(issuerDigits, r)
		}
	}
	if issuer.IDType == entity.IDTypeNIT && len(issuerDigits) == 10 {
		issuerDigits = issuerDigits[:9]
	}
	fingerprint, err := domaindian.Calculate(domaindian.CufeParams{
		InvoiceNumber:      inv.NumberString(),
		IssueDate:          inv.IssueDate,
		IssueTime:          inv.EffectiveIssueTime(),
		SubtotalMinor:      inv.SubtotalMinor,
		Taxes:              taxFields,
		GrandTotalMinor:    inv.TotalMinor,
		IssuerIDDigits:     string(issuerDigits),
		CustomerIDTypeCode: customer.IDType.DianCode(),
		CustomerIDNumber:   customer.IDNumber,
		TechnicalKey:       issuer.TechnicalKey,
		Production:         env.Production,
	})
	if err != nil {
		return domain.NewBusinessRule("CufeComputationFailure", err.Error())
	}
	inv.Fingerprint = fingerprint
	return nil
}

func (o *Orchestrator) loadIssuerCert(issuer *entity.Issuer) (tls.Certificate, error) {
	certPlain, err := icrypto.Decrypt(o.MasterKey.Material(), issuer.EncryptedCertificate)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPassword, err := icrypto.Decrypt(o.MasterKey.Material(), issuer.CertificatePassword)
	if err != nil {
		return tls.Certificate{}, err
	}
	return infradian.LoadCertFromBytes(certPlain, string(certPassword))
}

// CheckStatus consulta el resultado de un envío pendiente, en cuatro pasos:
//
//  1. Si el envío ya está en un estado terminal, lo devuelve sin consultar de nuevo.
//  2. Si no tiene track id, no hay nada que consultar.
//  3. Llama a GetStatusZip con el track id del envío.
//  4. Clasifica el status_code devuelto: "00" es PROCESSING (idempotente si ya lo
//     estaba); "02" es ACCEPTED; "04" es REJECTED y adjunta la orientación de
//     errormap.Classify; cualquier otro valor es ERROR con el mensaje textual. En
//     ACCEPTED o REJECTED avanza también el estado de la factura.
func (o *Orchestrator) CheckStatus(ctx context.Context, sub *entity.Submission) (*entity.Submission, error) {
	if sub.Status.Terminal() {
		return sub, nil
	}
	if sub.TrackID == nil {
		if o.Log != nil {
			o.Log.ForInvoice(sub.InvoiceID).Warn().Msg("check_status sin track id, se omite la consulta")
		}
		return sub, nil
	}

	inv, err := o.Invoices.FindByID(ctx, sub.InvoiceID)
	if err != nil {
		return nil, err
	}
	issuer, err := o.Issuers.FindByID(ctx, inv.IssuerID)
	if err != nil {
		return nil, err
	}
	env, err := o.Environments.FindByID(ctx, sub.EnvironmentID)
	if err != nil {
		return nil, err
	}

	resp, err := o.Client.getStatus(ctx, env.SOAPEndpoint, issuer.SoftwareID, issuer.SoftwarePIN, *sub.TrackID)
	if err != nil {
		return nil, domain.NewUpstream("DianStatusFailure", "GetStatusZip", err)
	}

	next := sub.Status
	var dianErrorCode, dianErrorMessage *string
	switch resp.StatusCode {
	case "00":
		next = entity.SubmissionStatusProcessing
	case "02":
		next = entity.SubmissionStatusAccepted
	case "04":
		next = entity.SubmissionStatusRejected
		guidance := errormap.Classify(resp.StatusCode, resp.StatusMessage)
		code := resp.StatusCode
		msg := guidance.Explanation
		dianErrorCode, dianErrorMessage = &code, &msg
	default:
		next = entity.SubmissionStatusError
		code := resp.StatusCode
		msg := resp.StatusMessage
		dianErrorCode, dianErrorMessage = &code, &msg
	}

	var encryptedResponse string
	if resp.ZipBase64 != "" {
		encryptedResponse, err = icrypto.Encrypt(o.MasterKey.Material(), []byte(resp.ZipBase64))
		if err != nil {
			return nil, err
		}
	}

	if next != sub.Status {
		if err := o.Submissions.UpdateStatus(ctx, sub.ID, sub.Status, next); err != nil {
			return nil, err
		}
		sub.Status = next
	}
	if encryptedResponse != "" || dianErrorCode != nil {
		if err := o.Submissions.UpdateDianResult(ctx, sub.ID, sub.TrackID, encryptedResponse, dianErrorCode, dianErrorMessage); err != nil {
			return nil, err
		}
		sub.EncryptedResponse = encryptedResponse
		sub.DianErrorCode = dianErrorCode
		sub.DianErrorMessage = dianErrorMessage
	}

	switch next {
	case entity.SubmissionStatusAccepted:
		_ = o.Invoices.UpdateStatus(ctx, sub.InvoiceID, entity.InvoiceStatusSubmittedToDian, entity.InvoiceStatusAcceptedByDian)
	case entity.SubmissionStatusRejected:
		_ = o.Invoices.UpdateStatus(ctx, sub.InvoiceID, entity.InvoiceStatusSubmittedToDian, entity.InvoiceStatusRejectedByDian)
	}

	return sub, nil
}

// PollUntilFinal llama a CheckStatus repetidamente, con una espera delay entre
// intentos, hasta que el envío llegue a un estado terminal o se agoten maxAttempts.
// La cancelación del contexto no destruye nada: se devuelve el último estado
// conocido del envío junto con el error de cancelación, dejando el registro como haya
// quedado en el último intento exitoso.
func (o *Orchestrator) PollUntilFinal(ctx context.Context, sub *entity.Submission, maxAttempts int, delay time.Duration) (*entity.Submission, error) {
	current := sub
	for attempt := 0; attempt < maxAttempts; attempt++ {
		next, err := o.CheckStatus(ctx, current)
		if err != nil {
			return current, err
		}
		current = next
		if current.Status.Terminal() {
			return current, nil
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-time.After(delay):
		}
	}
	return current, nil
}
