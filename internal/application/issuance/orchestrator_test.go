package issuance_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pkcs12"

	"github.com/tintofe/einvoice-core/internal/application/issuance"
	"github.com/tintofe/einvoice-core/internal/application/keycustody"
	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	icrypto "github.com/tintofe/einvoice-core/internal/infrastructure/crypto"
	infradian "github.com/tintofe/einvoice-core/internal/infrastructure/dian"
	"github.com/tintofe/einvoice-core/internal/infrastructure/dian/signer"
)

// fakeInvoices guarda todo bajo un mutex, no porque pgxpool lo necesite, sino porque
// TestSubmit_ConcurrentSubmitsOnSameDraftInvoiceOnlyOneWins ejecuta dos Submit() en
// paralelo y el fake necesita serializar sus propias lecturas/escrituras igual que lo
// haría una fila de Postgres bajo el WHERE status = $expected real.
type fakeInvoices struct {
	mu   sync.Mutex
	byID map[string]*entity.Invoice
}

func (f *fakeInvoices) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvoices) FindByIssuerPrefixNumber(ctx context.Context, issuerID, prefix string, number int64) (*entity.Invoice, error) {
	return nil, domain.ErrInvoiceNotFound
}

func (f *fakeInvoices) Upsert(ctx context.Context, inv *entity.Invoice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inv.ID == "" {
		inv.ID = "generated"
	}
	cp := *inv
	f.byID[inv.ID] = &cp
	return inv.ID, nil
}

func (f *fakeInvoices) InsertLine(ctx context.Context, invoiceID string, line *entity.LineItem) error { return nil }

func (f *fakeInvoices) NextNumber(ctx context.Context, issuerID, prefix string) (int64, error) { return 1, nil }

func (f *fakeInvoices) UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	if inv.Status != expectedCurrent {
		return domain.ErrIllegalStateTransition
	}
	inv.Status = next
	return nil
}

func (f *fakeInvoices) UpdateSignedContent(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus, fingerprint, encryptedUBL, encryptedSignedXML string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.byID[id]
	if !ok {
		return domain.ErrInvoiceNotFound
	}
	if inv.Status != expectedCurrent {
		return domain.ErrIllegalStateTransition
	}
	inv.Status = next
	inv.Fingerprint = fingerprint
	inv.EncryptedUBL = encryptedUBL
	inv.EncryptedSignedXML = encryptedSignedXML
	return nil
}

func (f *fakeInvoices) ListByIssuer(ctx context.Context, issuerIDNumber string) ([]entity.Invoice, error) {
	return nil, nil
}

type fakeSubmissions struct {
	mu        sync.Mutex
	byID      map[string]*entity.Submission
	byInvoice map[string]string // invoiceID -> latest submission id
	nextID    int
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{byID: map[string]*entity.Submission{}, byInvoice: map[string]string{}}
}

func (f *fakeSubmissions) FindByID(ctx context.Context, id string) (*entity.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	return sub, nil
}

func (f *fakeSubmissions) FindLatestByInvoiceID(ctx context.Context, invoiceID string) (*entity.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byInvoice[invoiceID]
	if !ok {
		return nil, nil
	}
	return f.byID[id], nil
}

func (f *fakeSubmissions) Insert(ctx context.Context, sub *entity.Submission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "sub-" + itoa(f.nextID)
	cp := *sub
	cp.ID = id
	f.byID[id] = &cp
	f.byInvoice[sub.InvoiceID] = id
	return id, nil
}

func (f *fakeSubmissions) UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.SubmissionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byID[id]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	if sub.Status != expectedCurrent {
		return domain.NewConflict("IllegalSubmissionTransition", "status has moved on")
	}
	sub.Status = next
	return nil
}

func (f *fakeSubmissions) UpdateRequestZip(ctx context.Context, id string, encryptedRequestZip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byID[id]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	sub.EncryptedRequestZip = encryptedRequestZip
	return nil
}

func (f *fakeSubmissions) UpdateDianResult(ctx context.Context, id string, trackID *string, encryptedResponse string, dianErrorCode, dianErrorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byID[id]
	if !ok {
		return domain.ErrSubmissionNotFound
	}
	sub.TrackID = trackID
	sub.EncryptedResponse = encryptedResponse
	sub.DianErrorCode, sub.DianErrorMessage = dianErrorCode, dianErrorMessage
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

type fakeIssuers struct{ byID map[string]*entity.Issuer }

func (f fakeIssuers) FindByID(ctx context.Context, id string) (*entity.Issuer, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrIssuerNotFound
	}
	return v, nil
}
func (f fakeIssuers) FindByIDNumber(ctx context.Context, idNumber string) (*entity.Issuer, error) {
	for _, v := range f.byID {
		if v.IDNumber == idNumber {
			return v, nil
		}
	}
	return nil, domain.ErrIssuerNotFound
}
func (f fakeIssuers) Upsert(ctx context.Context, issuer *entity.Issuer) (string, error) { return issuer.ID, nil }

type fakeCustomers struct{ byID map[string]*entity.Customer }

func (f fakeCustomers) FindByID(ctx context.Context, id string) (*entity.Customer, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return v, nil
}
func (f fakeCustomers) FindByIDNumber(ctx context.Context, idNumber string) (*entity.Customer, error) {
	for _, v := range f.byID {
		if v.IDNumber == idNumber {
			return v, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}
func (f fakeCustomers) Upsert(ctx context.Context, customer *entity.Customer) (string, error) {
	return customer.ID, nil
}

type fakeEnvironments struct{ byID map[string]*entity.Environment }

func (f fakeEnvironments) FindByID(ctx context.Context, id string) (*entity.Environment, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrEnvironmentNotFound
	}
	return v, nil
}
func (f fakeEnvironments) List(ctx context.Context) ([]entity.Environment, error) {
	var out []entity.Environment
	for _, v := range f.byID {
		out = append(out, *v)
	}
	return out, nil
}

func baseOrchestrator() (*issuance.Orchestrator, *fakeInvoices, *fakeSubmissions) {
	invoices := &fakeInvoices{byID: map[string]*entity.Invoice{
		"inv-1": {ID: "inv-1", IssuerID: "issuer-1", CustomerID: "customer-1", EnvironmentID: "habilitacion", Status: entity.InvoiceStatusSigned},
	}}
	submissions := newFakeSubmissions()
	issuers := fakeIssuers{byID: map[string]*entity.Issuer{"issuer-1": {ID: "issuer-1", IDNumber: "900111222-3"}}}
	customers := fakeCustomers{byID: map[string]*entity.Customer{"customer-1": {ID: "customer-1", IDNumber: "1234567890"}}}
	environments := fakeEnvironments{byID: map[string]*entity.Environment{
		"habilitacion": {ID: "habilitacion", Name: entity.EnvironmentHabilitacion, SOAPEndpoint: "https://vpfe-hab.dian.gov.co/"},
	}}
	o := &issuance.Orchestrator{
		Invoices:     invoices,
		Submissions:  submissions,
		Issuers:      issuers,
		Customers:    customers,
		Environments: environments,
	}
	return o, invoices, submissions
}

func TestSubmit_RejectsTerminalInvoice(t *testing.T) {
	o, invoices, _ := baseOrchestrator()
	invoices.byID["inv-1"].Status = entity.InvoiceStatusAcceptedByDian

	_, err := o.Submit(context.Background(), "inv-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIllegalStateTransition)
}

func TestSubmit_ReturnsExistingNonTerminalSubmissionWithoutResubmitting(t *testing.T) {
	o, _, submissions := baseOrchestrator()
	existing := &entity.Submission{InvoiceID: "inv-1", Status: entity.SubmissionStatusSubmitted}
	id, err := submissions.Insert(context.Background(), existing)
	require.NoError(t, err)

	got, err := o.Submit(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, entity.SubmissionStatusSubmitted, got.Status)
}

func TestSubmit_UnknownInvoiceFails(t *testing.T) {
	o, _, _ := baseOrchestrator()
	_, err := o.Submit(context.Background(), "no-such-invoice")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestSubmit_PersistsSubmissionBeforeDownstreamFailureLeavesDurableErrorRecord(t *testing.T) {
	o, invoices, submissions := baseOrchestrator()
	delete(o.Issuers.(fakeIssuers).byID, "issuer-1") // fuerza la falla en la resolución del emisor

	sub, err := o.Submit(context.Background(), "inv-1")
	require.Error(t, err)
	require.NotNil(t, sub, "el envío debe existir y devolverse aun cuando la emisión falla antes de construir el UBL")
	assert.Equal(t, entity.SubmissionStatusError, sub.Status)
	require.NotNil(t, sub.DianErrorMessage)
	assert.NotEmpty(t, *sub.DianErrorMessage)

	persisted, findErr := submissions.FindLatestByInvoiceID(context.Background(), "inv-1")
	require.NoError(t, findErr)
	require.NotNil(t, persisted, "el registro de envío debe haber quedado persistido antes de que la falla ocurriera")
	assert.Equal(t, entity.SubmissionStatusError, persisted.Status)
	assert.Equal(t, entity.InvoiceStatusSigned, invoices.byID["inv-1"].Status, "una falla previa a la firma no debe tocar el estado de la factura")
}

func TestCheckStatus_TerminalSubmissionSkipsNetworkCall(t *testing.T) {
	o, _, _ := baseOrchestrator()
	called := false
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
		called = true
		return nil, nil
	}}
	sub := &entity.Submission{ID: "sub-done", InvoiceID: "inv-1", Status: entity.SubmissionStatusAccepted}

	got, err := o.CheckStatus(context.Background(), sub)
	require.NoError(t, err)
	assert.Same(t, sub, got)
	assert.False(t, called, "no debe consultar la DIAN cuando el envío ya es terminal")
}

func TestCheckStatus_WithoutTrackIDSkipsNetworkCall(t *testing.T) {
	o, _, _ := baseOrchestrator()
	called := false
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
		called = true
		return nil, nil
	}}
	sub := &entity.Submission{ID: "sub-1", InvoiceID: "inv-1", Status: entity.SubmissionStatusSubmitted}

	got, err := o.CheckStatus(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionStatusSubmitted, got.Status)
	assert.False(t, called)
}

func TestCheckStatus_AcceptedAdvancesInvoiceStatus(t *testing.T) {
	o, invoices, submissions := baseOrchestrator()
	trackID := "track-1"
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, got string) (*infradian.StatusZipResponse, error) {
		assert.Equal(t, trackID, got)
		return &infradian.StatusZipResponse{StatusCode: "02", StatusMessage: "aceptado"}, nil
	}}
	submissions.byID["sub-1"] = &entity.Submission{ID: "sub-1", InvoiceID: "inv-1", EnvironmentID: "habilitacion", Status: entity.SubmissionStatusSubmitted, TrackID: &trackID}
	invoices.byID["inv-1"].Status = entity.InvoiceStatusSubmittedToDian

	got, err := o.CheckStatus(context.Background(), submissions.byID["sub-1"])
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionStatusAccepted, got.Status)
	assert.Equal(t, entity.InvoiceStatusAcceptedByDian, invoices.byID["inv-1"].Status)
}

func TestCheckStatus_RejectedAttachesGuidanceAndAdvancesInvoice(t *testing.T) {
	o, invoices, submissions := baseOrchestrator()
	trackID := "track-2"
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
		return &infradian.StatusZipResponse{StatusCode: "04", StatusMessage: "El CUFE reportado no coincide con el calculado"}, nil
	}}
	submissions.byID["sub-2"] = &entity.Submission{ID: "sub-2", InvoiceID: "inv-1", EnvironmentID: "habilitacion", Status: entity.SubmissionStatusSubmitted, TrackID: &trackID}
	invoices.byID["inv-1"].Status = entity.InvoiceStatusSubmittedToDian

	got, err := o.CheckStatus(context.Background(), submissions.byID["sub-2"])
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionStatusRejected, got.Status)
	require.NotNil(t, got.DianErrorMessage)
	assert.NotEmpty(t, *got.DianErrorMessage)
	assert.Equal(t, entity.InvoiceStatusRejectedByDian, invoices.byID["inv-1"].Status)
}

func TestCheckStatus_ProcessingDoesNotAdvanceInvoice(t *testing.T) {
	o, invoices, submissions := baseOrchestrator()
	trackID := "track-3"
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
		return &infradian.StatusZipResponse{StatusCode: "00", StatusMessage: "en proceso"}, nil
	}}
	submissions.byID["sub-3"] = &entity.Submission{ID: "sub-3", InvoiceID: "inv-1", EnvironmentID: "habilitacion", Status: entity.SubmissionStatusSubmitted, TrackID: &trackID}
	invoices.byID["inv-1"].Status = entity.InvoiceStatusSubmittedToDian

	got, err := o.CheckStatus(context.Background(), submissions.byID["sub-3"])
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionStatusProcessing, got.Status)
	assert.Equal(t, entity.InvoiceStatusSubmittedToDian, invoices.byID["inv-1"].Status)
}

func TestPollUntilFinal_StopsAtFirstTerminalStatus(t *testing.T) {
	o, _, submissions := baseOrchestrator()
	trackID := "track-4"
	attempts := 0
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
		attempts++
		if attempts < 3 {
			return &infradian.StatusZipResponse{StatusCode: "00"}, nil
		}
		return &infradian.StatusZipResponse{StatusCode: "02"}, nil
	}}
	sub := &entity.Submission{ID: "sub-4", InvoiceID: "inv-1", EnvironmentID: "habilitacion", Status: entity.SubmissionStatusSubmitted, TrackID: &trackID}
	submissions.byID["sub-4"] = sub

	got, err := o.PollUntilFinal(context.Background(), sub, 10, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionStatusAccepted, got.Status)
	assert.Equal(t, 3, attempts)
}

func TestPollUntilFinal_StopsAfterMaxAttemptsWithoutTerminalStatus(t *testing.T) {
	o, _, submissions := baseOrchestrator()
	trackID := "track-5"
	attempts := 0
	o.Client = &issuance.Client{GetStatusZipFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, trackID string) (*infradian.StatusZipResponse, error) {
		attempts++
		return &infradian.StatusZipResponse{StatusCode: "00"}, nil
	}}
	sub := &entity.Submission{ID: "sub-5", InvoiceID: "inv-1", EnvironmentID: "habilitacion", Status: entity.SubmissionStatusSubmitted, TrackID: &trackID}
	submissions.byID["sub-5"] = sub

	got, err := o.PollUntilFinal(context.Background(), sub, 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, entity.SubmissionStatusProcessing, got.Status)
	assert.Equal(t, 3, attempts)
}

// testMasterKey reconstruye una MasterKey real vía Seal/Load, igual que
// keycustody_test.sealedTestMasterKey — no hay otra forma de obtener una desde fuera
// del paquete keycustody, ya que su campo material es privado a propósito.
func testMasterKey(t *testing.T) *keycustody.MasterKey {
	t.Helper()
	var systemKey, material [32]byte
	for i := range systemKey {
		systemKey[i] = byte(i + 7)
		material[i] = byte(200 - i)
	}
	sealed, err := keycustody.Seal(systemKey, material)
	require.NoError(t, err)

	env := map[string]string{
		"TINTO_CONSOLE": "1",
		"TINTO_SYSKEY":  base64.StdEncoding.EncodeToString(systemKey[:]),
	}
	readFile := func(string) ([]byte, error) { return []byte(sealed), nil }
	cfg := keycustody.LoadConfig{ConsoleAccessEnv: "TINTO_CONSOLE", SystemKeyEnv: "TINTO_SYSKEY", MasterKeyFilePath: "/x"}
	mk, err := keycustody.Load(cfg, envMapFromMap(env), readFile)
	require.NoError(t, err)
	return mk
}

func envMapFromMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// testIssuerCertificate genera un certificado autofirmado y lo empaqueta como PKCS#12,
// igual que un emisor real traería desde su proveedor de certificación. Cifra tanto el
// PKCS#12 como la contraseña con la MasterKey de prueba, tal como loadIssuerCert espera
// encontrarlos en Issuer.EncryptedCertificate/CertificatePassword.
func testIssuerCertificate(t *testing.T, mk *keycustody.MasterKey) (encryptedCert, encryptedPassword string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Facturador Concurrente de Prueba"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	const password = "clave-p12-prueba"
	p12, err := pkcs12.Encode(rand.Reader, priv, leaf, nil, password)
	require.NoError(t, err)

	encryptedCert, err = icrypto.Encrypt(mk.Material(), p12)
	require.NoError(t, err)
	encryptedPassword, err = icrypto.Encrypt(mk.Material(), []byte(password))
	require.NoError(t, err)
	return encryptedCert, encryptedPassword
}

// concurrentSubmitOrchestrator arma el camino completo de Submit (CUFE, UBL, firma,
// empaquetado, envío) sobre una factura DRAFT, para poder ejercer la carrera real
// entre dos llamadas concurrentes en lugar de una falla temprana sintética.
func concurrentSubmitOrchestrator(t *testing.T) (*issuance.Orchestrator, *fakeInvoices) {
	mk := testMasterKey(t)
	encryptedCert, encryptedPassword := testIssuerCertificate(t, mk)

	rate := decimal.NewFromInt(19)
	invoices := &fakeInvoices{byID: map[string]*entity.Invoice{
		"inv-draft": {
			ID: "inv-draft", IssuerID: "issuer-1", CustomerID: "customer-1", EnvironmentID: "habilitacion",
			DocumentType: entity.DocumentTypeInvoice, Prefix: "SETP", Number: 1,
			IssueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Currency: "COP",
			SubtotalMinor: 20000, TaxMinor: 3800, TotalMinor: 23800,
			Taxes: []entity.TaxLine{{Code: "01", TaxableBaseMinor: 20000, AmountMinor: 3800, RatePercent: "19"}},
			Status: entity.InvoiceStatusDraft,
			Lines: []entity.LineItem{{
				LineNumber: 1, Description: "Servicio", Quantity: decimal.NewFromInt(2), UnitPriceMinor: 10000,
				LineTotalMinor: 20000, TaxRatePercent: &rate, ProductCode: "001", UnitCode: "94",
			}},
		},
	}}
	issuers := fakeIssuers{byID: map[string]*entity.Issuer{"issuer-1": {
		ID: "issuer-1", IDType: entity.IDTypeNIT, IDNumber: "900111222-3", LegalName: "Vende S.A.S.",
		EncryptedCertificate: encryptedCert, CertificatePassword: encryptedPassword,
		TechnicalKey: "tk", SoftwareID: "sw-1", SoftwarePIN: "pin-1",
	}}}
	customers := fakeCustomers{byID: map[string]*entity.Customer{"customer-1": {
		ID: "customer-1", IDType: entity.IDTypeCC, IDNumber: "1234567890", LegalName: "Persona Natural",
	}}}
	environments := fakeEnvironments{byID: map[string]*entity.Environment{
		"habilitacion": {ID: "habilitacion", Name: entity.EnvironmentHabilitacion, SOAPEndpoint: "https://vpfe-hab.dian.gov.co/", Production: false},
	}}

	o := &issuance.Orchestrator{
		Invoices:     invoices,
		Submissions:  newFakeSubmissions(),
		Issuers:      issuers,
		Customers:    customers,
		Environments: environments,
		MasterKey:    mk,
		Signer:       signer.NewService(),
		Client: &issuance.Client{
			SendTestSetAsyncFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*infradian.AsyncResponse, error) {
				return &infradian.AsyncResponse{Success: true, TrackID: "track-concurrent"}, nil
			},
			SendBillAsyncFn: func(ctx context.Context, endpoint, softwareID, softwarePIN, filename, zipBase64 string) (*infradian.AsyncResponse, error) {
				return &infradian.AsyncResponse{Success: true, TrackID: "track-concurrent"}, nil
			},
		},
	}
	return o, invoices
}

func TestSubmit_ConcurrentSubmitsOnSameDraftInvoiceOnlyOneWins(t *testing.T) {
	o, invoices := concurrentSubmitOrchestrator(t)

	results := make(chan *entity.Submission, 2)
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := o.Submit(context.Background(), "inv-draft")
			results <- sub
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	var errored, advanced int
	for sub := range results {
		require.NotNil(t, sub, "cada intento devuelve su propio envío aun cuando pierde la carrera")
		switch sub.Status {
		case entity.SubmissionStatusError:
			errored++
			require.NotNil(t, sub.DianErrorMessage)
		case entity.SubmissionStatusSubmitted:
			advanced++
		default:
			t.Fatalf("estado de envío inesperado: %s", sub.Status)
		}
	}
	assert.Equal(t, 1, errored, "exactamente un intento debe perder el compare-and-set sobre el estado de la factura")
	assert.Equal(t, 1, advanced, "el intento que gana la carrera debe llegar a enviarse a la DIAN")

	finalStatus := invoices.byID["inv-draft"].Status
	assert.Equal(t, entity.InvoiceStatusSubmittedToDian, finalStatus, "la factura debe terminar en un único estado consistente, no corrompida por la escritura perdedora")
}
