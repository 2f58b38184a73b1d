// Package alert delivers operator alerts over SMTP.
package alert

import (
	"gopkg.in/mail.v2"
)

// Mailer sends alert emails to the configured operator address.
type Mailer struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       string
}

func NewMailer(smtpHost string, smtpPort int, username, password, from, to string) *Mailer {
	return &Mailer{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

// Alert sends one alert email with the given subject and body.
func (m *Mailer) Alert(subject, body string) error {
	message := mail.NewMessage()

	message.SetHeader("From", m.from)
	message.SetHeader("To", m.to)
	message.SetHeader("Subject", subject)

	message.SetBody("text/plain", body)

	dialer := mail.NewDialer(m.smtpHost, m.smtpPort, m.username, m.password)

	return dialer.DialAndSend(message)
}
