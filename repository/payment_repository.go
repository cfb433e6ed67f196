package repository

import (
	"context"
	"errors"
	"time"

	"github.com/deveasyclick/billpay/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrStaleTransition is returned when a conditional status update matched no
// row: the record was already moved on by someone else or the edge is illegal.
var ErrStaleTransition = errors.New("status transition not applied")

// PaymentUpdate carries the optional columns written alongside a status change.
type PaymentUpdate struct {
	ResolvedItemID *uuid.UUID
	LastError      *string
	CompletedAt    *time.Time
}

// AttemptUpdate carries the optional columns written alongside an attempt
// status change.
type AttemptUpdate struct {
	ResponsePayload datatypes.JSON
	ErrorMessage    *string
	CompletedAt     *time.Time
}

// PaymentRepository is the durable store for payments and their attempts.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByReference(ctx context.Context, reference string) (*models.Payment, error)
	FindByReferenceWithAttempts(ctx context.Context, reference string) (*models.Payment, error)
	TransitionStatus(ctx context.Context, paymentID uuid.UUID, to models.PaymentStatus, update PaymentUpdate) error
	SetLastError(ctx context.Context, paymentID uuid.UUID, message string) error

	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	CountAttempts(ctx context.Context, paymentID uuid.UUID) (int64, error)
	FindAttempt(ctx context.Context, id uuid.UUID) (*models.PaymentAttempt, error)
	FindInFlightAttempt(ctx context.Context, paymentID uuid.UUID) (*models.PaymentAttempt, error)
	TransitionAttempt(ctx context.Context, attemptID uuid.UUID, to models.AttemptStatus, update AttemptUpdate) error
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *gormPaymentRepo) FindByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormPaymentRepo) FindByReferenceWithAttempts(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt_number ASC")
		}).
		Where("reference = ?", reference).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// TransitionStatus moves a payment to status to. The update only applies when
// the current row status is a legal source for to, so terminal payments can
// never be rewritten.
func (r *gormPaymentRepo) TransitionStatus(ctx context.Context, paymentID uuid.UUID, to models.PaymentStatus, update PaymentUpdate) error {
	sources := models.SourcesFor(to)
	if len(sources) == 0 {
		return ErrStaleTransition
	}

	updates := map[string]interface{}{"status": to}
	if update.ResolvedItemID != nil {
		updates["resolved_item_id"] = *update.ResolvedItemID
	}
	if update.LastError != nil {
		updates["last_error"] = *update.LastError
	}
	if update.CompletedAt != nil {
		updates["completed_at"] = *update.CompletedAt
	}

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status IN ?", paymentID, sources).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (r *gormPaymentRepo) SetLastError(ctx context.Context, paymentID uuid.UUID, message string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("last_error", message).Error
}

func (r *gormPaymentRepo) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *gormPaymentRepo) CountAttempts(ctx context.Context, paymentID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("payment_id = ?", paymentID).
		Count(&n).Error
	return n, err
}

func (r *gormPaymentRepo) FindAttempt(ctx context.Context, id uuid.UUID) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).First(&attempt, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindInFlightAttempt returns the attempt that still owns the payment, or
// gorm.ErrRecordNotFound when there is none.
func (r *gormPaymentRepo) FindInFlightAttempt(ctx context.Context, paymentID uuid.UUID) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).
		Where("payment_id = ? AND status IN ?", paymentID, models.InFlightAttemptStatuses).
		Order("attempt_number DESC").
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// TransitionAttempt records an attempt status change. Terminal attempts are
// immutable.
func (r *gormPaymentRepo) TransitionAttempt(ctx context.Context, attemptID uuid.UUID, to models.AttemptStatus, update AttemptUpdate) error {
	updates := map[string]interface{}{"status": to}
	if update.ResponsePayload != nil {
		updates["response_payload"] = update.ResponsePayload
	}
	if update.ErrorMessage != nil {
		updates["error_message"] = *update.ErrorMessage
	}
	if update.CompletedAt != nil {
		updates["completed_at"] = *update.CompletedAt
	}

	res := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ? AND status IN ?", attemptID, models.InFlightAttemptStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}
