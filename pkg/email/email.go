package email

import (
	"context"

	"github.com/dmitrymomot/jobkit/pkg/validator"
)

// Sender delivers one transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"` // Optional, for provider analytics
}

// Validate checks the recipient, subject and body
func (m Message) Validate() error {
	return validator.Apply(
		validator.RequiredString("to", m.To),
		validator.ValidEmail("to", m.To),
		validator.RequiredString("subject", m.Subject),
		validator.MaxLen("subject", m.Subject, 998),
		validator.RequiredString("body_html", m.BodyHTML),
		validator.MaxLen("tag", m.Tag, 1000),
	)
}
