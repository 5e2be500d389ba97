// Package notify is the credential-delivery side channel of the export
// pipeline. Messages are published to the mail exchange and delivered by
// the mailer service; delivery is best effort and a failure here must
// never decide a job's terminal status.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pantheonhq/pantheon/shared/rabbitmq"
)

// Message is one credential notice addressed to a provisioned user.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender delivers a message, fire-and-forget.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// AMQPSender publishes messages to the configured mail exchange.
type AMQPSender struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewAMQPSender creates a sender over an established RabbitMQ client.
func NewAMQPSender(client *rabbitmq.Client, logger *slog.Logger) *AMQPSender {
	return &AMQPSender{
		client: client,
		logger: logger,
	}
}

// Send publishes the message as JSON with publish retries.
func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := s.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	s.logger.Debug("Notification published",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)

	return nil
}
