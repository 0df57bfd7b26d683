// Package notices publishes operational notices, such as a local-to-cloud
// migration that keeps failing, to an SQS queue for follow-up.
package notices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// KindMigrationStalled is published when a user's migration has been attempted
// repeatedly and items remain outstanding.
const KindMigrationStalled = "migration_stalled"

// Notice is the JSON message body.
type Notice struct {
	Kind        string    `json:"kind"`
	UserID      string    `json:"user_id"`
	Attempts    int       `json:"attempts"`
	Outstanding int       `json:"outstanding"`
	RequestID   string    `json:"request_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher sends notices.
type Publisher interface {
	Publish(ctx context.Context, n Notice) error
}

// SQSSender abstracts the SQS SendMessage operation.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher implements Publisher over an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSPublisher creates a publisher targeting queueURL.
func NewSQSPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger}
}

func (p *SQSPublisher) Publish(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notices: failed to marshal notice: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(n.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("notices: failed to send to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "notice published",
		"kind", n.Kind,
		"user_id", n.UserID,
		"attempts", n.Attempts,
		"outstanding", n.Outstanding,
	)
	return nil
}

// Noop drops every notice. Used when NOTICE_QUEUE_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, Notice) error { return nil }

var (
	_ Publisher = (*SQSPublisher)(nil)
	_ Publisher = Noop{}
)
