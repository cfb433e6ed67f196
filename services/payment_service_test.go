package services_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var referencePattern = regexp.MustCompile(`^\d{12}[0-9A-F]{10}$`)

func newPaymentService(t *testing.T) (*memPaymentRepo, *memBillingRepo, *scriptedAdapter, models.BillingProvider, services.PaymentService) {
	t.Helper()
	payments := newMemPaymentRepo()
	billing := newMemBillingRepo()
	vt := newAdapter(models.ProviderVTPass, 3)
	row := billing.addProvider(models.ProviderVTPass, true)
	svc := services.NewPaymentService(payments, billing, providers.NewRegistry(vt), zap.NewNop())
	return payments, billing, vt, row, svc
}

func TestCreatePayment_StoresPending(t *testing.T) {
	payments, billing, _, row, svc := newPaymentService(t)
	item := billing.addItem(row, models.CategoryAirtime, "mtn-airtime", "mtn")

	resp, svcErr := svc.CreatePayment(context.Background(), &models.CreatePaymentRequest{
		CustomerID:    "08011111111",
		Category:      models.CategoryAirtime,
		Amount:        50000,
		BillingItemID: item.ID,
	})
	require.Nil(t, svcErr)
	assert.Regexp(t, referencePattern, resp.Reference)
	assert.Equal(t, "mtn-airtime", resp.InternalCode)

	p := payments.payment(resp.Reference)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, int64(50000), p.Amount)
	assert.Equal(t, item.ID, p.InitialItemID)
	assert.Nil(t, p.Plan)
}

func TestCreatePayment_FixedPriceDefaultsAmount(t *testing.T) {
	payments, billing, _, row, svc := newPaymentService(t)
	item := billing.addItem(row, models.CategoryData, "mtn-data-1000", "mtn-data")
	item.Amount = 100000
	item.AmountType = models.AmountTypeFixed

	resp, svcErr := svc.CreatePayment(context.Background(), &models.CreatePaymentRequest{
		CustomerID:    "08011111111",
		Category:      models.CategoryData,
		BillingItemID: item.ID,
	})
	require.Nil(t, svcErr)
	assert.Equal(t, int64(100000), payments.payment(resp.Reference).Amount)
}

func TestCreatePayment_ElectricityDefaultsPlan(t *testing.T) {
	payments, billing, _, row, svc := newPaymentService(t)
	item := billing.addItem(row, models.CategoryElectricity, "ikeja-electricity-postpaid", "ikeja-electric")
	item.Plan = "postpaid"

	resp, svcErr := svc.CreatePayment(context.Background(), &models.CreatePaymentRequest{
		CustomerID:    "45012345678",
		Category:      models.CategoryElectricity,
		Amount:        200000,
		BillingItemID: item.ID,
	})
	require.Nil(t, svcErr)
	p := payments.payment(resp.Reference)
	require.NotNil(t, p.Plan)
	assert.Equal(t, "postpaid", *p.Plan)
}

func TestCreatePayment_Rejections(t *testing.T) {
	_, billing, _, row, svc := newPaymentService(t)
	airtime := billing.addItem(row, models.CategoryAirtime, "mtn-airtime", "mtn")

	tests := []struct {
		name string
		req  models.CreatePaymentRequest
		kind services.ErrorKind
	}{
		{"unknown category", models.CreatePaymentRequest{CustomerID: "1", Category: "WATER", Amount: 100, BillingItemID: airtime.ID}, services.KindInvalidInput},
		{"missing item", models.CreatePaymentRequest{CustomerID: "1", Category: models.CategoryAirtime, Amount: 100, BillingItemID: uuid.New()}, services.KindNotFound},
		{"category mismatch", models.CreatePaymentRequest{CustomerID: "1", Category: models.CategoryTV, Amount: 100, BillingItemID: airtime.ID}, services.KindInvalidInput},
		{"no amount", models.CreatePaymentRequest{CustomerID: "1", Category: models.CategoryAirtime, BillingItemID: airtime.ID}, services.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, svcErr := svc.CreatePayment(context.Background(), &req)
			require.NotNil(t, svcErr)
			assert.Equal(t, tt.kind, svcErr.Kind)
		})
	}
}

func TestCreatePayment_StoreFailure(t *testing.T) {
	payments, billing, _, row, svc := newPaymentService(t)
	item := billing.addItem(row, models.CategoryAirtime, "mtn-airtime", "mtn")
	payments.createErr = errors.New("connection reset")

	_, svcErr := svc.CreatePayment(context.Background(), &models.CreatePaymentRequest{
		CustomerID: "1", Category: models.CategoryAirtime, Amount: 100, BillingItemID: item.ID,
	})
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindInternal, svcErr.Kind)
	assert.Equal(t, 500, svcErr.StatusCode)
}

func TestGetPayment(t *testing.T) {
	payments, _, _, _, svc := newPaymentService(t)
	p := &models.Payment{Reference: "REF1", Amount: 100, Status: models.PaymentStatusPending}
	require.NoError(t, payments.Create(context.Background(), p))
	require.NoError(t, payments.CreateAttempt(context.Background(), &models.PaymentAttempt{PaymentID: p.ID, AttemptNumber: 1}))

	got, svcErr := svc.GetPayment(context.Background(), "REF1")
	require.Nil(t, svcErr)
	assert.Len(t, got.Attempts, 1)

	_, svcErr = svc.GetPayment(context.Background(), "nope")
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindNotFound, svcErr.Kind)
}

func TestListItems(t *testing.T) {
	_, billing, _, row, svc := newPaymentService(t)
	billing.addItem(row, models.CategoryAirtime, "mtn-airtime", "mtn")
	billing.addItem(row, models.CategoryTV, "dstv-tv-15750", "dstv")

	items, svcErr := svc.ListItems(context.Background(), "", models.CategoryTV)
	require.Nil(t, svcErr)
	require.Len(t, items, 1)
	assert.Equal(t, "dstv-tv-15750", items[0].InternalCode)

	items, svcErr = svc.ListItems(context.Background(), models.ProviderVTPass, "")
	require.Nil(t, svcErr)
	assert.Len(t, items, 2)

	_, svcErr = svc.ListItems(context.Background(), "PAYSTACK", "")
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindInvalidInput, svcErr.Kind)

	billing.listErr = errors.New("db down")
	_, svcErr = svc.ListItems(context.Background(), "", "")
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindInternal, svcErr.Kind)
}

func TestValidateCustomer(t *testing.T) {
	_, _, vt, _, svc := newPaymentService(t)
	vt.customer = models.Customer{CustomerID: "1234567890", Name: "ADA OBI"}

	got, svcErr := svc.ValidateCustomer(context.Background(), &models.ValidateCustomerRequest{
		Provider: models.ProviderVTPass, CustomerID: "1234567890", PaymentCode: "dstv",
	})
	require.Nil(t, svcErr)
	assert.Equal(t, "ADA OBI", got.Name)

	vt.customerErr = errors.New("invalid smartcard")
	_, svcErr = svc.ValidateCustomer(context.Background(), &models.ValidateCustomerRequest{
		Provider: models.ProviderVTPass, CustomerID: "1", PaymentCode: "dstv",
	})
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindUpstream, svcErr.Kind)

	_, svcErr = svc.ValidateCustomer(context.Background(), &models.ValidateCustomerRequest{
		Provider: "PAYSTACK", CustomerID: "1", PaymentCode: "dstv",
	})
	require.NotNil(t, svcErr)
	assert.Equal(t, services.KindInvalidInput, svcErr.Kind)
}
