package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deveasyclick/billpay/models"
	aws_pkg "github.com/deveasyclick/billpay/pkg/aws"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/queue"
	"github.com/deveasyclick/billpay/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrStillPending tells the queue to redeliver the job later.
var ErrStillPending = errors.New("payment still pending at provider")

const exhaustedMessage = "reconciliation exhausted"

// ReconciliationService settles payments whose charge outcome was unknown
// when the customer's request returned.
type ReconciliationService interface {
	// Reconcile confirms the job's attempt with its own provider. It returns
	// ErrStillPending, or another error, when the job should be retried.
	Reconcile(ctx context.Context, job models.ReconciliationJob) error
	// HandleExhausted runs once the queue gives up on a job.
	HandleExhausted(ctx context.Context, job models.ReconciliationJob, lastErr error)
	// Requeue schedules a fresh job for an unsettled payment. It reports false
	// when a job is already queued.
	Requeue(ctx context.Context, reference string) (bool, *ServiceError)
}

type reconciliationServiceImpl struct {
	payments  repository.PaymentRepository
	registry  providers.Registry
	scheduler queue.Scheduler
	notifier  *Notifier
	now       func() time.Time
	logger    *zap.Logger
}

// NewReconciliationService creates a new ReconciliationService.
func NewReconciliationService(
	payments repository.PaymentRepository,
	registry providers.Registry,
	scheduler queue.Scheduler,
	notifier *Notifier,
	logger *zap.Logger,
) ReconciliationService {
	return &reconciliationServiceImpl{
		payments:  payments,
		registry:  registry,
		scheduler: scheduler,
		notifier:  notifier,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *reconciliationServiceImpl) Reconcile(ctx context.Context, job models.ReconciliationJob) error {
	log := s.logger.With(zap.String("reference", job.PaymentReference), zap.String("attempt_id", job.AttemptID.String()))

	payment, err := s.payments.FindByReference(ctx, job.PaymentReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("Reconciliation job for unknown payment, discarding")
			return nil
		}
		return fmt.Errorf("load payment: %w", err)
	}
	if payment.Status.IsTerminal() {
		log.Info("Payment already settled, discarding job", zap.String("status", string(payment.Status)))
		s.release(ctx, payment.Reference)
		return nil
	}

	attempt, err := s.owningAttempt(ctx, payment, job.AttemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("No attempt to reconcile, discarding job")
			s.release(ctx, payment.Reference)
			return nil
		}
		return fmt.Errorf("load attempt: %w", err)
	}

	// The attempt may already be settled if a previous run stopped between
	// the attempt and payment writes.
	if attempt.Status.IsTerminal() {
		return s.settlePayment(ctx, payment, attempt, attempt.Status == models.AttemptStatusSuccess, "")
	}

	adapter, ok := s.registry.Get(attempt.ProviderName)
	if !ok {
		return fmt.Errorf("no adapter for provider %s", attempt.ProviderName)
	}
	result, err := adapter.Confirm(ctx, payment.Reference)
	if err != nil {
		log.Warn("Reconciliation confirm failed", zap.Error(err))
		return fmt.Errorf("confirm with %s: %w", attempt.ProviderName, err)
	}
	if !result.Status.IsTerminal() {
		log.Info("Payment still pending at provider")
		return ErrStillPending
	}

	update := repository.AttemptUpdate{ResponsePayload: datatypes.JSON(result.Raw)}
	now := s.now()
	update.CompletedAt = &now
	succeeded := result.Status == providers.OutcomeSuccessful
	status := models.AttemptStatusSuccess
	msg := ""
	if !succeeded {
		status = models.AttemptStatusFailed
		msg = result.Message
		if msg == "" {
			msg = "charge failed"
		}
		update.ErrorMessage = &msg
	}
	if err := s.payments.TransitionAttempt(ctx, attempt.ID, status, update); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			log.Info("Attempt settled concurrently")
			return nil
		}
		return fmt.Errorf("settle attempt: %w", err)
	}
	return s.settlePayment(ctx, payment, attempt, succeeded, msg)
}

// owningAttempt prefers the attempt named by the job and falls back to the
// payment's in-flight attempt.
func (s *reconciliationServiceImpl) owningAttempt(ctx context.Context, payment *models.Payment, id uuid.UUID) (*models.PaymentAttempt, error) {
	if id != uuid.Nil {
		attempt, err := s.payments.FindAttempt(ctx, id)
		if err == nil && attempt.PaymentID == payment.ID {
			return attempt, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return s.payments.FindInFlightAttempt(ctx, payment.ID)
}

// settlePayment walks the payment through PROCESSING to its terminal state.
func (s *reconciliationServiceImpl) settlePayment(ctx context.Context, payment *models.Payment, attempt *models.PaymentAttempt, succeeded bool, msg string) error {
	if err := s.payments.TransitionStatus(ctx, payment.ID, models.PaymentStatusProcessing, repository.PaymentUpdate{}); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			s.logger.Info("Payment settled concurrently", zap.String("reference", payment.Reference))
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	now := s.now()
	to := models.PaymentStatusSuccess
	update := repository.PaymentUpdate{CompletedAt: &now}
	eventType := models.EventPaymentSucceeded
	if succeeded {
		update.ResolvedItemID = &attempt.BillingItemID
	} else {
		to = models.PaymentStatusFailed
		eventType = models.EventPaymentFailed
		if msg == "" {
			msg = "charge failed"
		}
		last := fmt.Sprintf("%s: %s", attempt.ProviderName, msg)
		update.LastError = &last
	}
	if err := s.payments.TransitionStatus(ctx, payment.ID, to, update); err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}

	s.logger.Info("Payment reconciled",
		zap.String("reference", payment.Reference),
		zap.String("status", string(to)),
		zap.String("provider", string(attempt.ProviderName)))
	s.notifier.publishEvent(ctx, eventType, models.PaymentEvent{
		EventType:  eventType,
		Reference:  payment.Reference,
		Status:     to,
		Provider:   attempt.ProviderName,
		Amount:     payment.Amount,
		CustomerID: payment.CustomerID,
		Timestamp:  now.UTC(),
	})
	s.notifier.count(ctx, aws_pkg.MetricReconciliationResolved, map[string]string{"Outcome": string(to)})
	s.release(ctx, payment.Reference)
	return nil
}

// HandleExhausted leaves the payment PENDING for an operator and frees the
// de-dupe key so it can be requeued.
func (s *reconciliationServiceImpl) HandleExhausted(ctx context.Context, job models.ReconciliationJob, lastErr error) {
	log := s.logger.With(zap.String("reference", job.PaymentReference))
	log.Error("Reconciliation exhausted, manual intervention required", zap.Error(lastErr))

	payment, err := s.payments.FindByReference(ctx, job.PaymentReference)
	if err != nil {
		log.Error("Failed to load exhausted payment", zap.Error(err))
		s.release(ctx, job.PaymentReference)
		return
	}
	if err := s.payments.SetLastError(ctx, payment.ID, exhaustedMessage); err != nil {
		log.Error("Failed to record exhaustion", zap.Error(err))
	}

	detail := exhaustedMessage
	if lastErr != nil {
		detail = lastErr.Error()
	}
	s.notifier.publishEvent(ctx, models.EventReconciliationExhausted, models.PaymentEvent{
		EventType:  models.EventReconciliationExhausted,
		Reference:  payment.Reference,
		Status:     payment.Status,
		Amount:     payment.Amount,
		CustomerID: payment.CustomerID,
		Error:      detail,
		Timestamp:  s.now().UTC(),
	})
	s.notifier.count(ctx, aws_pkg.MetricReconciliationExhausted, nil)
	s.release(ctx, payment.Reference)
}

func (s *reconciliationServiceImpl) Requeue(ctx context.Context, reference string) (bool, *ServiceError) {
	payment, err := s.payments.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, NotFound("payment %s not found", reference)
		}
		return false, Internal("failed to load payment", err)
	}
	if payment.Status.IsTerminal() {
		return false, Conflict("payment %s is already %s", reference, payment.Status)
	}

	attempt, err := s.payments.FindInFlightAttempt(ctx, payment.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, Conflict("payment %s has no attempt awaiting confirmation", reference)
		}
		return false, Internal("failed to load attempts", err)
	}
	if attempt.Status != models.AttemptStatusPendingConfirmation {
		return false, Conflict("payment %s attempt %d is %s", reference, attempt.AttemptNumber, attempt.Status)
	}

	queued, err := s.scheduler.Schedule(ctx, models.ReconciliationJob{PaymentReference: reference, AttemptID: attempt.ID})
	if err != nil {
		return false, Internal("failed to schedule reconciliation", err)
	}
	s.logger.Info("Reconciliation requeued", zap.String("reference", reference), zap.Bool("queued", queued))
	return queued, nil
}

func (s *reconciliationServiceImpl) release(ctx context.Context, reference string) {
	if err := s.scheduler.Release(context.WithoutCancel(ctx), reference); err != nil {
		s.logger.Warn("Failed to release reconciliation key", zap.String("reference", reference), zap.Error(err))
	}
}
