package services

import (
	"context"
	"encoding/json"
	"time"

	aws_pkg "github.com/deveasyclick/billpay/pkg/aws"
	"go.uber.org/zap"
)

// MetricsRecorder is the subset of the CloudWatch client the services use.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
	RecordValue(ctx context.Context, name string, value float64, dimensions map[string]string) error
}

type noopMetrics struct{}

func (noopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }

func (noopMetrics) RecordValue(context.Context, string, float64, map[string]string) error {
	return nil
}

// Notifier fans domain events out to SNS and counters out to CloudWatch.
// Both are best effort; a failure never changes a payment outcome.
type Notifier struct {
	sns     aws_pkg.SNSPublisher
	topic   string
	metrics MetricsRecorder
	logger  *zap.Logger
}

// NewNotifier creates a Notifier. Nil publisher or metrics disable that side.
func NewNotifier(sns aws_pkg.SNSPublisher, topic string, metrics MetricsRecorder, logger *zap.Logger) *Notifier {
	if sns == nil {
		sns = aws_pkg.NoopPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Notifier{sns: sns, topic: topic, metrics: metrics, logger: logger}
}

// publishEvent marshals an event and publishes it to SNS (non-fatal on error).
func (n *Notifier) publishEvent(ctx context.Context, eventType string, event interface{}) {
	if n.topic == "" {
		n.logger.Debug("SNS not configured, skipping event publish", zap.String("event", eventType))
		return
	}
	b, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal SNS event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := n.sns.Publish(ctx, n.topic, eventType, b); err != nil {
		n.logger.Error("Failed to publish SNS event", zap.String("event", eventType), zap.Error(err))
		return
	}
	n.logger.Debug("Published SNS event", zap.String("event", eventType))
}

func (n *Notifier) count(ctx context.Context, metric string, dimensions map[string]string) {
	if err := n.metrics.RecordCount(context.WithoutCancel(ctx), metric, dimensions); err != nil {
		n.logger.Warn("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

func (n *Notifier) value(ctx context.Context, metric string, v float64, dimensions map[string]string) {
	if err := n.metrics.RecordValue(context.WithoutCancel(ctx), metric, v, dimensions); err != nil {
		n.logger.Warn("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}
