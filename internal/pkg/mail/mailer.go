package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/MarcoHuber/SaaSKit/internal/pkg/env"
)

// Mailer sends transactional mail. The transport is selected once at startup
// via NewFromEnv and injected where needed; nothing below re-reads the
// environment per message.
type Mailer interface {
	Send(to, subject, body string) error
}

// NewFromEnv selects the mail transport from MAIL_TRANSPORT. "log" writes
// messages to the application log, which is the default for development.
func NewFromEnv() Mailer {
	switch env.GetEnv("MAIL_TRANSPORT", "log") {
	case "smtp":
		sender := env.GetEnv("SMTP_SENDER", "")
		if sender == "" {
			sender = "no-reply@localhost"
			log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
		}
		return &SMTPMailer{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetEnv("SMTP_PORT", "587"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   sender,
		}
	default:
		return &LogMailer{}
	}
}

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.Sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, m.Sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// LogMailer writes messages to the application log instead of sending them.
type LogMailer struct{}

func (m *LogMailer) Send(to, subject, _ string) error {
	log.Printf("[MAIL] to=%s subject=%q (log transport, not sent)", to, subject)
	return nil
}
