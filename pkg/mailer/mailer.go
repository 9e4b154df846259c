package mailer

import "context"

// Mailer delivers a single plain-text email. Delivery is best effort; the
// durable in-app notification record is the channel of record, so callers
// log send errors instead of propagating them.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
