package email

import "errors"

var (
	ErrFailedToSend   = errors.New("failed to send email")
	ErrInvalidConfig  = errors.New("invalid email configuration")
	ErrUnknownDriver  = errors.New("unknown email driver")
	ErrInvalidMessage = errors.New("invalid email message")
)
