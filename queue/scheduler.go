package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deveasyclick/billpay/models"
	"go.uber.org/zap"
)

// DefaultInitialDelay is how long a fresh reconciliation job waits before its
// first delivery.
const DefaultInitialDelay = 60 * time.Second

// MessageSender delivers a raw message body with a delivery delay.
type MessageSender interface {
	SendDelayed(ctx context.Context, body string, delay time.Duration) error
}

// Scheduler enqueues reconciliation jobs, at most one per payment reference.
type Scheduler interface {
	// Schedule returns false when a job for the reference is already queued.
	Schedule(ctx context.Context, job models.ReconciliationJob) (bool, error)
	// Release frees the reference so it can be scheduled again.
	Release(ctx context.Context, reference string) error
}

// SQSScheduler publishes jobs to SQS, de-duplicated through Dedupe.
type SQSScheduler struct {
	dedupe Dedupe
	sender MessageSender
	delay  time.Duration
	logger *zap.Logger
}

func NewSQSScheduler(dedupe Dedupe, sender MessageSender, delay time.Duration, logger *zap.Logger) *SQSScheduler {
	if delay <= 0 {
		delay = DefaultInitialDelay
	}
	return &SQSScheduler{dedupe: dedupe, sender: sender, delay: delay, logger: logger}
}

func (s *SQSScheduler) Schedule(ctx context.Context, job models.ReconciliationJob) (bool, error) {
	claimed, err := s.dedupe.Claim(ctx, job.PaymentReference)
	if err != nil {
		return false, fmt.Errorf("claim reconciliation key: %w", err)
	}
	if !claimed {
		s.logger.Info("Reconciliation already scheduled", zap.String("reference", job.PaymentReference))
		return false, nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		s.release(ctx, job.PaymentReference)
		return false, fmt.Errorf("marshal reconciliation job: %w", err)
	}
	if err := s.sender.SendDelayed(ctx, string(body), s.delay); err != nil {
		// Without a message nobody would ever release the key.
		s.release(ctx, job.PaymentReference)
		return false, fmt.Errorf("send reconciliation job: %w", err)
	}

	s.logger.Info("Reconciliation scheduled",
		zap.String("reference", job.PaymentReference),
		zap.String("attempt_id", job.AttemptID.String()),
		zap.Duration("delay", s.delay),
	)
	return true, nil
}

func (s *SQSScheduler) Release(ctx context.Context, reference string) error {
	return s.dedupe.Release(ctx, reference)
}

func (s *SQSScheduler) release(ctx context.Context, reference string) {
	if err := s.dedupe.Release(ctx, reference); err != nil {
		s.logger.Warn("Failed to release reconciliation key", zap.String("reference", reference), zap.Error(err))
	}
}
