package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/servly/servly-platform/pkg/logging"
)

// PushEvent is the envelope enqueued for the downstream push delivery
// worker. Delivery to devices happens outside this service.
type PushEvent struct {
	Type   string            `json:"type"`
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt string            `json:"sentAt"`
}

// PushGateway enqueues push events for delivery.
type PushGateway interface {
	Push(ctx context.Context, event PushEvent) error
}

// sqsAPI is the subset of the SQS client used by SQSPushGateway.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPushGateway publishes push events onto an SQS queue.
type SQSPushGateway struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
}

// NewSQSPushGateway creates a push gateway. Returns nil if no queue is
// configured, which callers treat as push disabled.
func NewSQSPushGateway(client sqsAPI, queueURL string, logger *logging.Logger) *SQSPushGateway {
	if client == nil || queueURL == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSPushGateway{client: client, queueURL: queueURL, logger: logger}
}

// Push enqueues one push event.
func (g *SQSPushGateway) Push(ctx context.Context, event PushEvent) error {
	if event.SentAt == "" {
		event.SentAt = time.Now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal push event: %w", err)
	}
	_, err = g.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(g.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to enqueue push event: %w", err)
	}
	g.logger.Debug("push event enqueued", "type", event.Type, "user_id", event.UserID)
	return nil
}
