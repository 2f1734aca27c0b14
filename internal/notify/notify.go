// Package notify sends review notifications to editors and reviewers.
package notify

import (
	"context"
	"fmt"

	"github.com/resendlabs/resend-go"

	"github.com/northpress/syndicate/internal/logger"
)

// Notifier delivers a message to recipients. Callers fire and forget;
// failures are logged, never block state transitions.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject, body string) error
}

// EmailNotifier sends notifications through the Resend API.
type EmailNotifier struct {
	client *resend.Client
	from   string
	logger logger.Logger
}

// NewEmailNotifier creates a notifier sending from the given address.
func NewEmailNotifier(apiKey, from string, log logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		client: resend.NewClient(apiKey),
		from:   from,
		logger: log,
	}
}

// Notify sends one email to all recipients.
func (n *EmailNotifier) Notify(_ context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      recipients,
		Subject: subject,
		Text:    body,
	}

	sent, err := n.client.Emails.Send(params)
	if err != nil {
		n.logger.Warn("Failed to send notification",
			logger.String("subject", subject),
			logger.Int("recipients", len(recipients)),
			logger.Error(err),
		)
		return fmt.Errorf("send notification: %w", err)
	}

	n.logger.Debug("Notification sent",
		logger.String("email_id", sent.Id),
		logger.String("subject", subject),
	)
	return nil
}

// NopNotifier discards all notifications. Used when notifications are
// disabled and in tests.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, []string, string, string) error { return nil }
