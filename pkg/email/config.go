package email

import "fmt"

// Drivers accepted by New
const (
	DriverPostmark = "postmark"
	DriverDev      = "dev"
)

// Config holds email delivery settings.
// Postmark tokens are only needed by the postmark driver.
type Config struct {
	Driver               string `env:"EMAIL_DRIVER" envDefault:"dev"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL"`
	SupportEmail         string `env:"SUPPORT_EMAIL"`
}

// New builds the sender selected by cfg.Driver
func New(cfg Config) (Sender, error) {
	switch cfg.Driver {
	case "", DriverDev:
		return NewDevSender(cfg.DevDir)
	case DriverPostmark:
		return NewPostmarkSender(cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
