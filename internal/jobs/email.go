package jobs

import (
	"context"
	"errors"

	"github.com/dmitrymomot/jobkit/pkg/email"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// SendEmail is the payload of the send-email job.
type SendEmail struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
}

func (p SendEmail) message() email.Message {
	return email.Message{To: p.To, Subject: p.Subject, BodyHTML: p.BodyHTML, Tag: p.Tag}
}

// Validate applies the email message rules
func (p SendEmail) Validate() error {
	return p.message().Validate()
}

type mailer struct {
	sender email.Sender
}

func (m *mailer) handle(ctx context.Context, p SendEmail) (queue.NoResult, error) {
	if err := m.sender.Send(ctx, p.message()); err != nil {
		if errors.Is(err, email.ErrInvalidMessage) {
			return queue.NoResult{}, queue.NonRetryable(err)
		}
		return queue.NoResult{}, err
	}

	queue.LoggerFromContext(ctx).InfoContext(ctx, "email sent",
		logger.Event("email.sent"),
		logger.Handler(TypeSendEmail))
	return queue.NoResult{}, nil
}
