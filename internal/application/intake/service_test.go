package intake_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tintofe/einvoice-core/internal/application/intake"
	"github.com/tintofe/einvoice-core/internal/domain"
	"github.com/tintofe/einvoice-core/internal/domain/entity"
	"github.com/tintofe/einvoice-core/pkg/dian"
)

// fakeInvoices es un InvoiceRepository en memoria suficiente para ejercer intake.Service.
type fakeInvoices struct {
	byID              map[string]*entity.Invoice
	byIssuerPrefixNum map[string]*entity.Invoice
	nextID            int
	nextNumberByKey   map[string]int64
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{
		byID:              map[string]*entity.Invoice{},
		byIssuerPrefixNum: map[string]*entity.Invoice{},
		nextNumberByKey:   map[string]int64{},
	}
}

func keyOf(issuerID, prefix string, number int64) string {
	return issuerID + "|" + prefix + "|" + formatKeyNumber(number)
}

func formatKeyNumber(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func (f *fakeInvoices) FindByID(ctx context.Context, id string) (*entity.Invoice, error) {
	inv, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) FindByIssuerPrefixNumber(ctx context.Context, issuerID, prefix string, number int64) (*entity.Invoice, error) {
	inv, ok := f.byIssuerPrefixNum[keyOf(issuerID, prefix, number)]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) Upsert(ctx context.Context, inv *entity.Invoice) (string, error) {
	f.nextID++
	id := formatKeyNumber(int64(f.nextID))
	cp := *inv
	cp.ID = id
	f.byID[id] = &cp
	f.byIssuerPrefixNum[keyOf(inv.IssuerID, inv.Prefix, inv.Number)] = &cp
	return id, nil
}

func (f *fakeInvoices) InsertLine(ctx context.Context, invoiceID string, line *entity.LineItem) error {
	inv := f.byID[invoiceID]
	if inv != nil {
		inv.Lines = append(inv.Lines, *line)
	}
	return nil
}

func (f *fakeInvoices) NextNumber(ctx context.Context, issuerID, prefix string) (int64, error) {
	key := issuerID + "|" + prefix
	f.nextNumberByKey[key]++
	return f.nextNumberByKey[key], nil
}

func (f *fakeInvoices) UpdateStatus(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus) error {
	return nil
}

func (f *fakeInvoices) UpdateSignedContent(ctx context.Context, id string, expectedCurrent, next entity.InvoiceStatus, fingerprint, encryptedUBL, encryptedSignedXML string) error {
	return nil
}

func (f *fakeInvoices) ListByIssuer(ctx context.Context, issuerIDNumber string) ([]entity.Invoice, error) {
	var out []entity.Invoice
	for _, inv := range f.byID {
		out = append(out, *inv)
	}
	return out, nil
}

type fakeIssuers struct {
	byIDNumber map[string]*entity.Issuer
}

func (f fakeIssuers) FindByID(ctx context.Context, id string) (*entity.Issuer, error) {
	for _, v := range f.byIDNumber {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, domain.ErrIssuerNotFound
}

func (f fakeIssuers) FindByIDNumber(ctx context.Context, idNumber string) (*entity.Issuer, error) {
	v, ok := f.byIDNumber[idNumber]
	if !ok {
		return nil, domain.ErrIssuerNotFound
	}
	return v, nil
}

func (f fakeIssuers) Upsert(ctx context.Context, issuer *entity.Issuer) (string, error) {
	return issuer.ID, nil
}

type fakeCustomers struct {
	byIDNumber map[string]*entity.Customer
}

func (f fakeCustomers) FindByID(ctx context.Context, id string) (*entity.Customer, error) {
	for _, v := range f.byIDNumber {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}

func (f fakeCustomers) FindByIDNumber(ctx context.Context, idNumber string) (*entity.Customer, error) {
	v, ok := f.byIDNumber[idNumber]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return v, nil
}

func (f fakeCustomers) Upsert(ctx context.Context, customer *entity.Customer) (string, error) {
	return customer.ID, nil
}

type fakeEnvironments struct {
	byID map[string]*entity.Environment
}

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

// validCustomerNIT es un NIT de 10 dígitos con dígito de verificación módulo-11 correcto.
const validCustomerNIT = "9001234568"

func newService() (*intake.Service, *fakeInvoices) {
	invoices := newFakeInvoices()
	issuers := fakeIssuers{byIDNumber: map[string]*entity.Issuer{
		"900111222-3": {ID: "issuer-1", IDType: entity.IDTypeNIT, IDNumber: "900111222-3", LegalName: "Vende S.A.S."},
	}}
	customers := fakeCustomers{byIDNumber: map[string]*entity.Customer{
		validCustomerNIT: {ID: "customer-1", IDType: entity.IDTypeNIT, IDNumber: validCustomerNIT, LegalName: "Compra Ltda."},
		"1234567890":     {ID: "customer-cc", IDType: entity.IDTypeCC, IDNumber: "1234567890", LegalName: "Persona Natural"},
	}}
	environments := fakeEnvironments{byID: map[string]*entity.Environment{
		"habilitacion": {ID: "habilitacion", Name: entity.EnvironmentHabilitacion},
	}}
	return &intake.Service{
		Invoices:     invoices,
		Issuers:      issuers,
		Customers:    customers,
		Environments: environments,
	}, invoices
}

func oneLine() []intake.LineInput {
	rate := decimal.NewFromInt(19)
	return []intake.LineInput{
		{
			Description:    "Servicio de consultoría",
			Quantity:       decimal.NewFromInt(2),
			UnitPriceMinor: 10000,
			TaxCode:        dian.TaxCodeIVA,
			TaxRatePercent: &rate,
			ProductCode:    "001",
			UnitCode:       dian.UnitUnit,
		},
	}
}

func baseParams(lines []intake.LineInput) intake.CreateInvoiceParams {
	return intake.CreateInvoiceParams{
		IssuerIDNumber:   "900111222-3",
		CustomerIDNumber: validCustomerNIT,
		EnvironmentID:    "habilitacion",
		DocumentType:     entity.DocumentTypeInvoice,
		Prefix:           "SETP",
		Currency:         "COP",
		IssueDate:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Lines:            lines,
	}
}

func TestCreateInvoice_HappyPathComputesTotalsAndAssignsNumber(t *testing.T) {
	svc, _ := newService()

	inv, err := svc.CreateInvoice(context.Background(), baseParams(oneLine()))
	require.NoError(t, err)

	assert.Equal(t, int64(1), inv.Number)
	assert.Equal(t, entity.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, int64(20000), inv.SubtotalMinor) // 2 * 10000
	assert.Equal(t, int64(3800), inv.TaxMinor)        // 20000 * 19%
	assert.Equal(t, int64(23800), inv.TotalMinor)
	require.Len(t, inv.Taxes, 1)
	assert.Equal(t, dian.TaxCodeIVA, inv.Taxes[0].Code)
	assert.Equal(t, int64(3800), inv.Taxes[0].AmountMinor)
	assert.NotEmpty(t, inv.ID)
}

func TestCreateInvoice_PersistsLinesWithInvoiceID(t *testing.T) {
	svc, invoices := newService()

	inv, err := svc.CreateInvoice(context.Background(), baseParams(oneLine()))
	require.NoError(t, err)

	stored := invoices.byID[inv.ID]
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, inv.ID, stored.Lines[0].InvoiceID)
	assert.Equal(t, 1, stored.Lines[0].LineNumber)
}

func TestCreateInvoice_ExplicitNumberSkipsSequence(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	number := int64(42)
	params.Number = &number

	inv, err := svc.CreateInvoice(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(42), inv.Number)
}

func TestCreateInvoice_DuplicateNumberFails(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	number := int64(7)
	params.Number = &number

	_, err := svc.CreateInvoice(context.Background(), params)
	require.NoError(t, err)

	_, err = svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateInvoiceNumber)
}

func TestCreateInvoice_UnknownIssuerFails(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	params.IssuerIDNumber = "000000000-0"

	_, err := svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIssuerNotFound)
}

func TestCreateInvoice_UnknownCustomerFails(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	params.CustomerIDNumber = "no-such-customer"

	_, err := svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
}

func TestCreateInvoice_UnknownEnvironmentFails(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	params.EnvironmentID = "no-such-env"

	_, err := svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEnvironmentNotFound)
}

func TestCreateInvoice_BadCustomerNITFailsValidation(t *testing.T) {
	svc, _ := newService()

	svcCustomers := svc.Customers.(fakeCustomers)
	svcCustomers.byIDNumber["900000000-9"] = &entity.Customer{ID: "bad-nit", IDType: entity.IDTypeNIT, IDNumber: "900000000-9", LegalName: "NIT Malo"}

	params := baseParams(oneLine())
	params.CustomerIDNumber = "900000000-9"

	_, err := svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestCreateInvoice_NonNITCustomerSkipsCheckDigit(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	params.CustomerIDNumber = "1234567890"

	_, err := svc.CreateInvoice(context.Background(), params)
	require.NoError(t, err)
}

func TestCreateInvoice_EmptyLinesFailsValidation(t *testing.T) {
	svc, _ := newService()
	params := baseParams(nil)

	_, err := svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestCreateInvoice_MultipleTaxCodesAggregateSeparatelyInFixedOrder(t *testing.T) {
	svc, _ := newService()
	ivaRate := decimal.NewFromInt(19)
	incRate := decimal.NewFromInt(8)
	params := baseParams([]intake.LineInput{
		{Description: "Bien con INC", Quantity: decimal.NewFromInt(1), UnitPriceMinor: 50000, TaxCode: dian.TaxCodeINC, TaxRatePercent: &incRate, UnitCode: dian.UnitUnit},
		{Description: "Bien con IVA", Quantity: decimal.NewFromInt(1), UnitPriceMinor: 50000, TaxCode: dian.TaxCodeIVA, TaxRatePercent: &ivaRate, UnitCode: dian.UnitUnit},
	})

	inv, err := svc.CreateInvoice(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, inv.Taxes, 2)
	assert.Equal(t, dian.TaxCodeIVA, inv.Taxes[0].Code, "IVA precede a INC según TaxCodeOrder")
	assert.Equal(t, dian.TaxCodeINC, inv.Taxes[1].Code)
}

func TestCreateInvoice_DeclaredTotalMatchingComputedTotalSucceeds(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	declared := int64(23800)
	params.DeclaredTotalMinor = &declared

	inv, err := svc.CreateInvoice(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(23800), inv.TotalMinor)
}

func TestCreateInvoice_DeclaredTotalMismatchFailsWithBusinessRuleNamingBothTotals(t *testing.T) {
	svc, _ := newService()
	params := baseParams(oneLine())
	declared := int64(1000000)
	params.DeclaredTotalMinor = &declared

	_, err := svc.CreateInvoice(context.Background(), params)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindBusinessRule))

	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Contains(t, domainErr.Message, "10000.00")
	assert.Contains(t, domainErr.Message, "238.00")
}

func TestCreateInvoice_LineWithoutTaxCodeIsNotTaxed(t *testing.T) {
	svc, _ := newService()
	params := baseParams([]intake.LineInput{
		{Description: "Exento", Quantity: decimal.NewFromInt(1), UnitPriceMinor: 10000, UnitCode: dian.UnitUnit},
	})

	inv, err := svc.CreateInvoice(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inv.TaxMinor)
	assert.Empty(t, inv.Taxes)
}
