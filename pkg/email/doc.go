// Package email sends transactional email for background jobs.
//
// Two senders are provided: PostmarkSender for production delivery and
// DevSender, which writes each message to a directory as HTML plus JSON
// metadata. New picks one from Config.Driver.
//
//	sender, err := email.New(cfg)
//	if err != nil {
//		return err
//	}
//	err = sender.Send(ctx, email.Message{
//		To:       "user@example.com",
//		Subject:  "Your export is ready",
//		BodyHTML: body,
//		Tag:      "export-ready",
//	})
//
// Messages are validated before sending; invalid ones return ErrInvalidMessage
// joined with the validator errors, so callers can treat them as permanent.
package email
