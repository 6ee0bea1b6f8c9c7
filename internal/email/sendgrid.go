// Package email sends transactional messages through SendGrid.
package email

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/rahu7v3rma/soreal-sub001/internal/config"
)

// Sender delivers the messages the product sends.
type Sender interface {
	SendGenerationReady(ctx context.Context, msg GenerationReady) error
}

// GenerationReady is the "your image is ready" notification.
type GenerationReady struct {
	ToEmail  string
	ToName   string
	Kind     string
	ImageURL string
}

type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid implements Sender.
type SendGrid struct {
	client   sendClient
	fromAddr string
	fromName string
	appURL   string
}

// New returns a SendGrid sender, or a Noop sender when no API key is set.
func New(cfg config.EmailConfig) Sender {
	if strings.TrimSpace(cfg.SendGridKey) == "" {
		log.Warn().Msg("email: SENDGRID_API_KEY not set, notifications disabled")
		return Noop{}
	}
	return &SendGrid{
		client:   sendgrid.NewSendClient(cfg.SendGridKey),
		fromAddr: cfg.FromAddress,
		fromName: cfg.FromName,
		appURL:   strings.TrimRight(cfg.AppURL, "/"),
	}
}

// SendGenerationReady sends the notification and treats non-2xx as errors.
func (s *SendGrid) SendGenerationReady(ctx context.Context, msg GenerationReady) error {
	if msg.ToEmail == "" {
		return nil
	}
	m := s.buildGenerationReady(msg)
	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (s *SendGrid) buildGenerationReady(msg GenerationReady) *mail.SGMailV3 {
	from := mail.NewEmail(s.fromName, s.fromAddr)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	label := kindLabel(msg.Kind)
	subject := fmt.Sprintf("Your %s is ready", label)

	plain := fmt.Sprintf("Your %s is ready.\n\nView it here: %s\n\nSee all your images: %s/dashboard\n",
		label, msg.ImageURL, s.appURL)
	htmlBody := fmt.Sprintf(`<p>Your %s is ready.</p><p><a href="%s"><img src="%s" alt="result" style="max-width:480px"></a></p><p><a href="%s/dashboard">See all your images</a></p>`,
		html.EscapeString(label), html.EscapeString(msg.ImageURL), html.EscapeString(msg.ImageURL), html.EscapeString(s.appURL))

	return mail.NewSingleEmail(from, subject, to, plain, htmlBody)
}

func kindLabel(kind string) string {
	switch kind {
	case "upscale":
		return "upscaled image"
	case "remove_background":
		return "background removal"
	default:
		return "image"
	}
}

// Noop discards every message.
type Noop struct{}

// SendGenerationReady does nothing.
func (Noop) SendGenerationReady(context.Context, GenerationReady) error { return nil }
