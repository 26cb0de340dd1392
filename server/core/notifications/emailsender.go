package notifications

// EmailSender is the outbound channel of every notifier in this package.
type EmailSender interface {
	// SendEmail sends an email with the specified subject and body to the given recipient.
	SendEmail(to, subject, body string) error
}

type nopSender struct{}

// NopSender discards every message. It is used when no SMTP relay is configured.
var NopSender EmailSender = &nopSender{}

func (n *nopSender) SendEmail(to, subject, body string) error {
	return nil
}
