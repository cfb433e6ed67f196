package services

import (
	"context"
	"errors"
	"time"

	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaymentService covers the payment endpoints that do not move money.
type PaymentService interface {
	CreatePayment(ctx context.Context, req *models.CreatePaymentRequest) (*models.CreatePaymentResponse, *ServiceError)
	GetPayment(ctx context.Context, reference string) (*models.Payment, *ServiceError)
	ListItems(ctx context.Context, provider models.ProviderName, category models.BillCategory) ([]models.BillingItem, *ServiceError)
	ValidateCustomer(ctx context.Context, req *models.ValidateCustomerRequest) (*models.Customer, *ServiceError)
}

type paymentServiceImpl struct {
	payments repository.PaymentRepository
	billing  repository.BillingRepository
	registry providers.Registry
	now      func() time.Time
	logger   *zap.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	payments repository.PaymentRepository,
	billing repository.BillingRepository,
	registry providers.Registry,
	logger *zap.Logger,
) PaymentService {
	return &paymentServiceImpl{
		payments: payments,
		billing:  billing,
		registry: registry,
		now:      time.Now,
		logger:   logger,
	}
}

// CreatePayment records a PENDING payment against a catalog item and returns
// its reference.
func (s *paymentServiceImpl) CreatePayment(ctx context.Context, req *models.CreatePaymentRequest) (*models.CreatePaymentResponse, *ServiceError) {
	if !req.Category.IsKnown() {
		return nil, InvalidInput("unknown category %q", req.Category)
	}

	item, err := s.billing.FindItemByID(ctx, req.BillingItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("billing item %s not found", req.BillingItemID)
		}
		s.logger.Error("FindItemByID failed", zap.Error(err))
		return nil, Internal("failed to load billing item", err)
	}
	if item.Category != req.Category {
		return nil, InvalidInput("billing item is %s, not %s", item.Category, req.Category)
	}

	amount := req.Amount
	if amount == 0 && item.AmountType == models.AmountTypeFixed {
		amount = item.Amount
	}
	if amount <= 0 {
		return nil, InvalidInput("amount is required for this item")
	}

	plan := req.Plan
	if req.Category == models.CategoryElectricity && (plan == nil || *plan == "") {
		p := item.Plan
		if p == "" {
			p = item.PaymentCode
		}
		plan = &p
	}

	payment := &models.Payment{
		Reference:     NewReference(s.now()),
		Amount:        amount,
		CustomerID:    req.CustomerID,
		Category:      req.Category,
		Plan:          plan,
		Status:        models.PaymentStatusPending,
		InternalCode:  item.InternalCode,
		InitialItemID: item.ID,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		s.logger.Error("Failed to create payment", zap.Error(err))
		return nil, Internal("failed to create payment", err)
	}

	s.logger.Info("Payment created",
		zap.String("reference", payment.Reference),
		zap.String("internal_code", payment.InternalCode),
		zap.Int64("amount", payment.Amount))
	return &models.CreatePaymentResponse{Reference: payment.Reference, InternalCode: payment.InternalCode}, nil
}

// GetPayment returns a payment with its attempts in order.
func (s *paymentServiceImpl) GetPayment(ctx context.Context, reference string) (*models.Payment, *ServiceError) {
	payment, err := s.payments.FindByReferenceWithAttempts(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("payment %s not found", reference)
		}
		return nil, Internal("failed to load payment", err)
	}
	return payment, nil
}

// ListItems returns the active items of one provider, VTPASS when unset.
func (s *paymentServiceImpl) ListItems(ctx context.Context, provider models.ProviderName, category models.BillCategory) ([]models.BillingItem, *ServiceError) {
	if provider == "" {
		provider = models.ProviderVTPass
	}
	if _, ok := s.registry.Get(provider); !ok {
		return nil, InvalidInput("unknown provider %q", provider)
	}
	if category != "" && !category.IsKnown() {
		return nil, InvalidInput("unknown category %q", category)
	}

	items, err := s.billing.ListActiveItems(ctx, provider, category)
	if err != nil {
		s.logger.Error("ListActiveItems failed", zap.Error(err))
		return nil, Internal("failed to list items", err)
	}
	return items, nil
}

// ValidateCustomer forwards a customer lookup to the named provider.
func (s *paymentServiceImpl) ValidateCustomer(ctx context.Context, req *models.ValidateCustomerRequest) (*models.Customer, *ServiceError) {
	adapter, ok := s.registry.Get(req.Provider)
	if !ok {
		return nil, InvalidInput("unknown provider %q", req.Provider)
	}

	customer, err := adapter.ValidateCustomer(ctx, providers.CustomerLookup{
		CustomerID:  req.CustomerID,
		PaymentCode: req.PaymentCode,
		Type:        req.Type,
	})
	if err != nil {
		s.logger.Warn("Customer validation failed",
			zap.String("provider", string(req.Provider)),
			zap.String("customer_id", req.CustomerID),
			zap.Error(err))
		return nil, Upstream("customer validation failed", err)
	}
	return &customer, nil
}
