package mail

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPConfig carries dialer settings for the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// template is a subject/body pair with {{key}} placeholders filled from the
// message context.
type template struct {
	subject string
	body    string
}

var templates = map[string]template{
	"verification": {
		subject: "Confirm your address",
		body:    "Use the code below to confirm {{identifier}}:\n\n{{token}}\n\nIf you did not request this, ignore this message.",
	},
	"password_reset": {
		subject: "Reset your password",
		body:    "A password reset was requested for {{identifier}}. Use this code to continue:\n\n{{token}}\n\nThe code expires shortly. If you did not request a reset, no action is needed.",
	},
	"invitation": {
		subject: "You have been invited",
		body:    "An account has been reserved for {{email}}. Use this code to accept the invitation:\n\n{{token}}",
	},
}

// SMTPMailer sends templated mail through a gomail dialer.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send resolves templateKey, interpolates mailContext, and delivers the
// message. Unknown template keys are an error so a typo surfaces in the
// outbox dead letters instead of silently dropping mail.
func (m *SMTPMailer) Send(_ context.Context, templateKey, recipient string, mailContext map[string]string) error {
	tpl, ok := templates[templateKey]
	if !ok {
		return fmt.Errorf("unknown mail template %q", templateKey)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", interpolate(tpl.subject, mailContext))
	msg.SetBody("text/plain", interpolate(tpl.body, mailContext))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %s mail: %w", templateKey, err)
	}
	return nil
}

func interpolate(text string, mailContext map[string]string) string {
	for key, value := range mailContext {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text
}
