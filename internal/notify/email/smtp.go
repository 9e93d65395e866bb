// Package email delivers verification codes over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	mail "github.com/go-mail/mail"

	"ams-control-plane/backend/internal/notify"
	"ams-control-plane/backend/internal/observability/logger"
)

// SMTPSender implements notify.Notifier over SMTP.
type SMTPSender struct {
	Host string
	Port int
	From string
	User string
	Pass string
	// TLSMode is "starttls" (default), "ssl" or "none".
	TLSMode string

	send func(m *mail.Message) error
}

// NewSMTPSender returns a sender for the given server.
func NewSMTPSender(host string, port int, from, user, pass, tlsMode string) *SMTPSender {
	s := &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass, TLSMode: strings.ToLower(tlsMode)}
	s.send = s.dialAndSend
	return s
}

// Send renders the template for msg.Kind and delivers it to msg.Target.
func (s *SMTPSender) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, html, text, err := Render(msg)
	if err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", msg.Target)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := s.send(m); err != nil {
		logger.From(ctx).Error("smtp send failed",
			logger.Component("email"),
			logger.String("kind", string(msg.Kind)),
			logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) dialAndSend(m *mail.Message) error {
	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	d.Timeout = 10 * time.Second
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d.DialAndSend(m)
}

type templateSet struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

type templateData struct {
	Code      string
	ExpiresIn string
}

var templates = map[notify.Kind]templateSet{
	notify.KindSignupOTP: {
		subject: "Welcome! Verify your email",
		html: htmltemplate.Must(htmltemplate.New("signup_otp").Parse(
			`<p>Welcome aboard.</p><p>Your verification code is <strong>{{.Code}}</strong>. It expires in {{.ExpiresIn}}.</p>`)),
		text: texttemplate.Must(texttemplate.New("signup_otp").Parse(
			"Welcome aboard.\n\nYour verification code is {{.Code}}. It expires in {{.ExpiresIn}}.\n")),
	},
	notify.KindVerifyOTP: {
		subject: "Your verification code",
		html: htmltemplate.Must(htmltemplate.New("verify_otp").Parse(
			`<p>Your verification code is <strong>{{.Code}}</strong>. It expires in {{.ExpiresIn}}.</p>`)),
		text: texttemplate.Must(texttemplate.New("verify_otp").Parse(
			"Your verification code is {{.Code}}. It expires in {{.ExpiresIn}}.\n")),
	},
	notify.KindVerifyToken: {
		subject: "Verify your email to sign in",
		html: htmltemplate.Must(htmltemplate.New("verify_token").Parse(
			`<p>Your account email is not verified yet.</p><p>Verification token: <code>{{.Code}}</code></p><p>It expires in {{.ExpiresIn}}.</p>`)),
		text: texttemplate.Must(texttemplate.New("verify_token").Parse(
			"Your account email is not verified yet.\n\nVerification token: {{.Code}}\n\nIt expires in {{.ExpiresIn}}.\n")),
	},
}

// Render returns the subject, HTML and plain-text bodies for msg.
func Render(msg notify.Message) (subject, html, text string, err error) {
	set, ok := templates[msg.Kind]
	if !ok {
		return "", "", "", fmt.Errorf("email: unknown template kind %q", msg.Kind)
	}
	data := templateData{Code: msg.Code, ExpiresIn: humanize(time.Until(msg.ExpiresAt))}
	var hb, tb bytes.Buffer
	if err := set.html.Execute(&hb, data); err != nil {
		return "", "", "", err
	}
	if err := set.text.Execute(&tb, data); err != nil {
		return "", "", "", err
	}
	return set.subject, hb.String(), tb.String(), nil
}

func humanize(d time.Duration) string {
	switch {
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Round(time.Hour)/time.Hour))
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	default:
		return "a few moments"
	}
}
