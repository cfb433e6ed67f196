package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/deveasyclick/billpay/models"
)

var (
	// ErrUnsupportedCategory is returned when an adapter cannot build a payload
	// for the requested category.
	ErrUnsupportedCategory = errors.New("unsupported bill category")
	// ErrUnexpectedResponse marks a provider reply that could not be interpreted.
	ErrUnexpectedResponse = errors.New("unexpected provider response")
	// ErrUnauthorized is returned when the provider rejects our credentials.
	ErrUnauthorized = errors.New("provider rejected credentials")
)

// Outcome is the normalized three-way result of a pay or confirm call.
type Outcome string

const (
	OutcomeSuccessful Outcome = "SUCCESSFUL"
	OutcomeFailed     Outcome = "FAILED"
	OutcomePending    Outcome = "PENDING"
)

func (o Outcome) IsTerminal() bool {
	return o == OutcomeSuccessful || o == OutcomeFailed
}

// Result is the shared shape every adapter maps its native response onto.
type Result struct {
	Status    Outcome
	Amount    int64 // kobo
	Reference string
	Message   string
	Metadata  map[string]any
	Raw       json.RawMessage
}

// PayRequest carries everything an adapter may need to build its
// category-specific payload.
type PayRequest struct {
	Reference   string
	Category    models.BillCategory
	CustomerID  string
	Amount      int64 // kobo
	BillerCode  string
	PaymentCode string
	Plan        string
}

// Offer is one entry of a provider listing.
type Offer struct {
	BillerCode  string              `validate:"required"`
	BillerName  string              `validate:"required"`
	Category    models.BillCategory `validate:"required"`
	Name        string              `validate:"required"`
	PaymentCode string              `validate:"required"`
	Amount      int64               `validate:"gte=0"`
	AmountType  int                 `validate:"gte=0"`
	Plan        string
	Image       string
}

type CustomerLookup struct {
	CustomerID  string
	PaymentCode string
	Type        string
}

// BillingProvider defines the interface every bill payment integration must implement.
type BillingProvider interface {
	Name() models.ProviderName

	// Supports reports whether the adapter can pay bills in category.
	Supports(category models.BillCategory) bool

	// ConfirmationRounds is how many times a pending charge is re-queried
	// synchronously before it is handed to reconciliation.
	ConfirmationRounds() int

	// Pay submits a charge. A returned error means the charge was not accepted.
	Pay(ctx context.Context, req PayRequest) (Result, error)

	// Confirm re-queries the outcome of a charge by payment reference.
	Confirm(ctx context.Context, reference string) (Result, error)

	// ListOffers returns the provider's current catalog.
	ListOffers(ctx context.Context) ([]Offer, error)

	// ValidateCustomer looks up the account behind a customer id.
	ValidateCustomer(ctx context.Context, req CustomerLookup) (models.Customer, error)
}

// Registry resolves adapters by provider name.
type Registry map[models.ProviderName]BillingProvider

func NewRegistry(adapters ...BillingProvider) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Name()] = a
	}
	return r
}

func (r Registry) Get(name models.ProviderName) (BillingProvider, bool) {
	p, ok := r[name]
	return p, ok
}

// IsTimeout reports whether err is a transport timeout. A timed-out charge may
// still have been accepted, so callers must treat it as pending.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
