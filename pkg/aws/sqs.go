package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	maxDelaySeconds      = 900
	maxVisibilitySeconds = 43200
	pollErrorPause       = 5 * time.Second
)

// ErrQueueMissing is returned by StartPolling when the queue does not exist.
// Polling cannot recover from it.
var ErrQueueMissing = errors.New("sqs queue does not exist")

// sqsAPI is the subset of *sqs.Client used here.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Message is one received SQS message.
type Message struct {
	ID   string
	Body string
	// ReceiveCount is how many times SQS has delivered the message, this
	// delivery included.
	ReceiveCount int
}

// MessageHandler processes a message. A nil return deletes it.
type MessageHandler func(ctx context.Context, msg Message) error

// ExhaustedHandler runs once a message has failed on its last allowed delivery.
type ExhaustedHandler func(ctx context.Context, msg Message, lastErr error)

type ConsumerOptions struct {
	// MaxReceives is the delivery budget. Zero means unlimited.
	MaxReceives int
	// Backoff returns the visibility delay after the n-th failed delivery.
	// Nil leaves the queue's own visibility timeout in charge.
	Backoff     func(n int) time.Duration
	OnExhausted ExhaustedHandler
	WaitSeconds int32
	BatchSize   int32
}

// SQSClient sends and consumes messages on a single queue.
type SQSClient struct {
	client   sqsAPI
	queueURL string
	opts     ConsumerOptions
	logger   *zap.Logger
}

func NewSQSClient(cfg sdkaws.Config, queueURL string, opts ConsumerOptions, logger *zap.Logger) *SQSClient {
	return newSQSClient(sqs.NewFromConfig(cfg), queueURL, opts, logger)
}

func newSQSClient(api sqsAPI, queueURL string, opts ConsumerOptions, logger *zap.Logger) *SQSClient {
	if opts.WaitSeconds == 0 {
		opts.WaitSeconds = 20
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 10
	}
	return &SQSClient{client: api, queueURL: queueURL, opts: opts, logger: logger}
}

// SendDelayed sends body, hidden from consumers for delay (capped at 15m).
func (c *SQSClient) SendDelayed(ctx context.Context, body string, delay time.Duration) error {
	seconds := int32(delay / time.Second)
	if seconds > maxDelaySeconds {
		seconds = maxDelaySeconds
	}
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     sdkaws.String(c.queueURL),
		MessageBody:  sdkaws.String(body),
		DelaySeconds: seconds,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// StartPolling long-polls the queue until ctx is cancelled or the queue turns
// out not to exist.
func (c *SQSClient) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS polling stopped")
			return ctx.Err()
		default:
		}

		err := c.pollOnce(ctx, handler)
		if err == nil || ctx.Err() != nil {
			continue
		}
		if isQueueMissing(err) {
			return fmt.Errorf("%w: %s", ErrQueueMissing, c.queueURL)
		}
		c.logger.Error("Error polling SQS", zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(pollErrorPause):
		}
	}
}

func (c *SQSClient) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    sdkaws.String(c.queueURL),
		MaxNumberOfMessages:         c.opts.BatchSize,
		WaitTimeSeconds:             c.opts.WaitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, raw := range result.Messages {
		if raw.Body == nil {
			continue
		}
		msg := Message{
			ID:           sdkaws.ToString(raw.MessageId),
			Body:         *raw.Body,
			ReceiveCount: receiveCount(raw.Attributes),
		}
		c.handle(ctx, handler, msg, raw.ReceiptHandle)
	}
	return nil
}

func (c *SQSClient) handle(ctx context.Context, handler MessageHandler, msg Message, receipt *string) {
	herr := handler(ctx, msg)
	if herr == nil {
		c.delete(ctx, msg, receipt)
		return
	}

	if c.opts.MaxReceives > 0 && msg.ReceiveCount >= c.opts.MaxReceives {
		c.logger.Warn("Message delivery budget exhausted",
			zap.String("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount),
			zap.Error(herr),
		)
		if c.opts.OnExhausted != nil {
			c.opts.OnExhausted(ctx, msg, herr)
		}
		c.delete(ctx, msg, receipt)
		return
	}

	c.logger.Info("Message processing deferred",
		zap.String("message_id", msg.ID),
		zap.Int("receive_count", msg.ReceiveCount),
		zap.Error(herr),
	)
	if c.opts.Backoff == nil {
		return
	}
	timeout := int32(c.opts.Backoff(msg.ReceiveCount) / time.Second)
	if timeout > maxVisibilitySeconds {
		timeout = maxVisibilitySeconds
	}
	if _, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          sdkaws.String(c.queueURL),
		ReceiptHandle:     receipt,
		VisibilityTimeout: timeout,
	}); err != nil {
		c.logger.Warn("Failed to change message visibility", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (c *SQSClient) delete(ctx context.Context, msg Message, receipt *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      sdkaws.String(c.queueURL),
		ReceiptHandle: receipt,
	}); err != nil {
		c.logger.Error("Failed to delete message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func isQueueMissing(err error) bool {
	var missing *types.QueueDoesNotExist
	if errors.As(err, &missing) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist":
			return true
		}
	}
	return false
}

type queueURLAPI interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, opts ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// GetQueueURL resolves a queue name to its URL.
func GetQueueURL(ctx context.Context, cfg sdkaws.Config, queueName string) (string, error) {
	return resolveQueueURL(ctx, sqs.NewFromConfig(cfg), queueName)
}

func resolveQueueURL(ctx context.Context, api queueURLAPI, queueName string) (string, error) {
	result, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: sdkaws.String(queueName),
	})
	if err != nil {
		if isQueueMissing(err) {
			return "", fmt.Errorf("%w: %s", ErrQueueMissing, queueName)
		}
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return sdkaws.ToString(result.QueueUrl), nil
}
