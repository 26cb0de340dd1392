package notifications

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

var sendMail = smtp.SendMail

// SmtpSender delivers notifications through an SMTP relay.
type SmtpSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func NewSmtpSender(host string, port int, username, password, from string) *SmtpSender {
	return &SmtpSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
	}
}

// SendEmail sends a plain text message. Relays without authentication are used when Username is empty.
func (s *SmtpSender) SendEmail(to, subject, body string) error {
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	headers := []string{
		"To: " + to,
		"From: " + s.From,
		"Subject: " + subject,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	msg := []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	if err := sendMail(addr, auth, s.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}
