package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid delivers email through the SendGrid v3 API.
type SendGrid struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
	logger     zerolog.Logger
}

// SendGridConfig carries the credentials and sender identity.
type SendGridConfig struct {
	APIKey    string
	FromName  string
	FromEmail string
	AppName   string
}

// NewSendGrid constructs a SendGrid-backed mailer.
func NewSendGrid(cfg SendGridConfig, logger zerolog.Logger) (*SendGrid, error) {
	if cfg.APIKey == "" || cfg.FromEmail == "" {
		return nil, fmt.Errorf("sendgrid api key and sender must be provided")
	}

	prefix := ""
	if cfg.AppName != "" {
		prefix = "[" + cfg.AppName + "] "
	}

	return &SendGrid{
		client:     sendgrid.NewSendClient(cfg.APIKey),
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		subjPrefix: prefix,
		logger:     logger.With().Str("component", "sendgrid_mailer").Logger(),
	}, nil
}

// Send delivers a single message synchronously.
func (m *SendGrid) Send(_ context.Context, to, subject, body string) error {
	message := sgmail.NewSingleEmail(m.from, m.subjPrefix+subject, sgmail.NewEmail("", to), body, "")

	response, err := m.client.Send(message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send email: status %d: %s", response.StatusCode, response.Body)
	}

	m.logger.Debug().Str("to", to).Str("subject", subject).Msg("email dispatched")

	return nil
}
