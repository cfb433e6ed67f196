package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSuccess    PaymentStatus = "SUCCESS"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// paymentTransitions lists the allowed forward edges of the payment state machine.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing},
	PaymentStatusProcessing: {PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusPending},
}

// CanTransition reports whether a payment in status s may move to status to.
// Re-asserting the current non-terminal status is allowed.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if s == to {
		return true
	}
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may legally move to to.
func SourcesFor(to PaymentStatus) []PaymentStatus {
	var sources []PaymentStatus
	for _, from := range []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing} {
		if from.CanTransition(to) {
			sources = append(sources, from)
		}
	}
	return sources
}

type AttemptStatus string

const (
	AttemptStatusInitiated           AttemptStatus = "INITIATED"
	AttemptStatusPendingConfirmation AttemptStatus = "PENDING_CONFIRMATION"
	AttemptStatusSuccess             AttemptStatus = "SUCCESS"
	AttemptStatusFailed              AttemptStatus = "FAILED"
)

func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSuccess || s == AttemptStatusFailed
}

// InFlightAttemptStatuses are the attempt states that still own the payment.
var InFlightAttemptStatuses = []AttemptStatus{AttemptStatusInitiated, AttemptStatusPendingConfirmation}

type Payment struct {
	ID             uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Reference      string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	Amount         int64         `gorm:"not null" json:"amount"` // in kobo
	CustomerID     string        `gorm:"type:varchar(64);not null" json:"customerId"`
	Category       BillCategory  `gorm:"type:varchar(20);not null" json:"category"`
	Plan           *string       `gorm:"type:varchar(32)" json:"plan,omitempty"`
	Status         PaymentStatus `gorm:"type:varchar(20);index;not null" json:"status"`
	InternalCode   string        `gorm:"type:varchar(128);index;not null" json:"internalCode"`
	InitialItemID  uuid.UUID     `gorm:"type:uuid;not null" json:"initialItemId"`
	ResolvedItemID *uuid.UUID    `gorm:"type:uuid" json:"resolvedItemId,omitempty"`
	LastError      *string       `gorm:"type:text" json:"lastError,omitempty"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`

	Attempts []PaymentAttempt `gorm:"foreignKey:PaymentID" json:"attempts,omitempty"`
}

type PaymentAttempt struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PaymentID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"paymentId"`
	ProviderID      uuid.UUID      `gorm:"type:uuid;not null" json:"providerId"`
	ProviderName    ProviderName   `gorm:"type:varchar(20);not null" json:"provider"`
	BillingItemID   uuid.UUID      `gorm:"type:uuid;not null" json:"billingItemId"`
	AttemptNumber   int            `gorm:"not null" json:"attemptNumber"`
	Status          AttemptStatus  `gorm:"type:varchar(32);index;not null" json:"status"`
	RequestPayload  datatypes.JSON `gorm:"type:jsonb" json:"requestPayload,omitempty"`
	ResponsePayload datatypes.JSON `gorm:"type:jsonb" json:"responsePayload,omitempty"`
	ErrorMessage    *string        `gorm:"type:text" json:"errorMessage,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// ReconciliationJob is the queue message that asks the worker to settle one payment.
type ReconciliationJob struct {
	PaymentReference string    `json:"paymentReference"`
	AttemptID        uuid.UUID `json:"attemptId"`
}

// CreatePaymentRequest is the body of POST /bills/payments.
type CreatePaymentRequest struct {
	CustomerID    string       `json:"customerId" binding:"required"`
	Category      BillCategory `json:"category" binding:"required"`
	Amount        int64        `json:"amount" binding:"gte=0"`
	BillingItemID uuid.UUID    `json:"billingItemId" binding:"required"`
	Plan          *string      `json:"plan,omitempty"`
}

type CreatePaymentResponse struct {
	Reference    string `json:"reference"`
	InternalCode string `json:"internalCode"`
}

// PayBillRequest is the body of POST /bills/pay.
type PayBillRequest struct {
	PaymentReference string        `json:"paymentReference" binding:"required"`
	BillingItemID    uuid.UUID     `json:"billingItemId" binding:"required"`
	Provider         *ProviderName `json:"provider,omitempty"`
}

type PayBillResult struct {
	Reference    string         `json:"paymentRef"`
	Amount       int64          `json:"amount"`
	Status       PaymentStatus  `json:"status"`
	Provider     ProviderName   `json:"provider,omitempty"`
	InternalCode string         `json:"internalCode,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
