package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/deveasyclick/billpay/models"
	aws_pkg "github.com/deveasyclick/billpay/pkg/aws"
	"github.com/deveasyclick/billpay/services"
	"go.uber.org/zap"
)

// Poller delivers queue messages to a handler until ctx is done.
type Poller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// ReconciliationConsumer feeds reconciliation jobs from the queue into the
// reconciliation service.
type ReconciliationConsumer struct {
	service services.ReconciliationService
	logger  *zap.Logger
}

func NewReconciliationConsumer(svc services.ReconciliationService, logger *zap.Logger) *ReconciliationConsumer {
	return &ReconciliationConsumer{service: svc, logger: logger}
}

// Start blocks polling until ctx is cancelled.
func (c *ReconciliationConsumer) Start(ctx context.Context, poller Poller) error {
	c.logger.Info("Reconciliation consumer started")
	err := poller.StartPolling(ctx, c.Handle)
	if errors.Is(err, context.Canceled) {
		c.logger.Info("Reconciliation consumer shutting down")
		return nil
	}
	return err
}

// Handle processes one delivery. A nil return deletes the message; an error
// leaves it for redelivery.
func (c *ReconciliationConsumer) Handle(ctx context.Context, msg aws_pkg.Message) error {
	job, ok := c.decode(msg)
	if !ok {
		// Unparseable, delete to avoid a redelivery loop.
		return nil
	}

	err := c.service.Reconcile(ctx, job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrStillPending):
		c.logger.Info("Payment still pending",
			zap.String("reference", job.PaymentReference),
			zap.Int("receive_count", msg.ReceiveCount))
	default:
		c.logger.Error("Reconciliation failed",
			zap.String("reference", job.PaymentReference),
			zap.Int("receive_count", msg.ReceiveCount),
			zap.Error(err))
	}
	return err
}

// Exhausted runs after the last allowed delivery of a job has failed.
func (c *ReconciliationConsumer) Exhausted(ctx context.Context, msg aws_pkg.Message, lastErr error) {
	job, ok := c.decode(msg)
	if !ok {
		return
	}
	c.service.HandleExhausted(ctx, job, lastErr)
}

func (c *ReconciliationConsumer) decode(msg aws_pkg.Message) (models.ReconciliationJob, bool) {
	var job models.ReconciliationJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		c.logger.Error("Failed to unmarshal reconciliation job", zap.String("message_id", msg.ID), zap.Error(err))
		return job, false
	}
	if job.PaymentReference == "" {
		c.logger.Error("Reconciliation job without payment reference", zap.String("message_id", msg.ID))
		return job, false
	}
	return job, true
}
