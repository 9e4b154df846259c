package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// Console logs messages instead of delivering them. Used in development and
// wherever no SendGrid credentials are configured.
type Console struct {
	logger zerolog.Logger
}

// NewConsole constructs the logging mailer.
func NewConsole(logger zerolog.Logger) *Console {
	return &Console{logger: logger.With().Str("component", "console_mailer").Logger()}
}

// Send writes the message to the log.
func (m *Console) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email (console)")
	return nil
}
