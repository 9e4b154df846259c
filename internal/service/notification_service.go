package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/events"
	"github.com/campuscore/coursework-api/internal/models"
	"github.com/campuscore/coursework-api/internal/observability"
	"github.com/campuscore/coursework-api/internal/repository"
	"github.com/campuscore/coursework-api/pkg/mailer"
)

const (
	notificationBufferSize = 16
	emailSendTimeout       = 15 * time.Second
)

// ErrNotificationNotFound indicates the notification was not located.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationService performs the fan-out for workflow events: one durable
// notification record plus a best-effort email per event, and SSE streaming
// to connected clients.
type NotificationService interface {
	HandleEvent(ctx context.Context, event events.Event)
	HandleRemote(ctx context.Context, event events.Event)
	List(ctx context.Context, recipientEmail string, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id uint, recipientEmail string) (dto.NotificationResponse, error)
	Subscribe(recipientEmail string) (<-chan dto.NotificationResponse, func())
}

type notificationService struct {
	repo      repository.NotificationRepository
	mail      mailer.Mailer
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	broker    *notificationBroker
}

// NewNotificationService constructs the fan-out service and registers it on
// the event bus: local events get the full fan-out, bridged events only the
// SSE broadcast (the publishing node already owns the durable record).
func NewNotificationService(repo repository.NotificationRepository, mail mailer.Mailer, bus *events.Bus, logger zerolog.Logger) NotificationService {
	s := &notificationService{
		repo:      repo,
		mail:      mail,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/campuscore/coursework-api/internal/service/notification"),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
	}

	if bus != nil {
		bus.SubscribeLocal(s.HandleEvent)
		bus.SubscribeRemote(s.HandleRemote)
	}

	return s
}

// HandleEvent consumes one workflow event. The durable record and the email
// are independent at-least-once side effects; an email failure never touches
// the record and neither failure reaches the transition that emitted the
// event.
func (s *notificationService) HandleEvent(ctx context.Context, event events.Event) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.fan_out", trace.WithAttributes(
		attribute.String("notification.kind", string(event.Kind)),
		attribute.String("notification.recipient", event.Recipient),
	))
	defer span.End()

	message := strings.TrimSpace(s.sanitizer.Sanitize(event.Message))
	if message == "" {
		s.logger.Warn().Str("event_id", event.ID).Msg("notification message empty after sanitization")
		return
	}

	model := models.Notification{
		RecipientEmail: event.Recipient,
		Kind:           string(event.Kind),
		Message:        message,
		Context:        datatypes.JSONMap(event.Context),
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to persist notification")
		return
	}

	observability.NotificationsPublished().WithLabelValues(string(event.Kind)).Inc()

	response := dto.NewNotificationResponse(model)
	s.broker.broadcast(event.Recipient, response)

	go s.sendEmail(event, message)
}

// HandleRemote pushes a bridged event to local SSE subscribers only.
func (s *notificationService) HandleRemote(_ context.Context, event events.Event) {
	message := strings.TrimSpace(s.sanitizer.Sanitize(event.Message))
	if message == "" {
		return
	}

	s.broker.broadcast(event.Recipient, dto.NotificationResponse{
		RecipientEmail: event.Recipient,
		Kind:           string(event.Kind),
		Message:        message,
		Context:        event.Context,
		CreatedAt:      event.OccurredAt,
	})
}

func (s *notificationService) sendEmail(event events.Event, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), emailSendTimeout)
	defer cancel()

	if err := s.mail.Send(ctx, event.Recipient, subjectFor(event.Kind), message); err != nil {
		observability.EmailsSent().WithLabelValues("error").Inc()
		s.logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("recipient", event.Recipient).
			Msg("email delivery failed, in-app notification remains the channel of record")
		return
	}

	observability.EmailsSent().WithLabelValues("ok").Inc()
}

func (s *notificationService) List(ctx context.Context, recipientEmail string, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(recipientEmail) == "" {
		return nil, errors.New("recipient email is required")
	}

	notifications, err := s.repo.ListByRecipient(ctx, recipientEmail, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

// MarkRead is idempotent; re-marking a read notification succeeds unchanged.
func (s *notificationService) MarkRead(ctx context.Context, id uint, recipientEmail string) (dto.NotificationResponse, error) {
	notification, err := s.repo.MarkRead(ctx, id, recipientEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) Subscribe(recipientEmail string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(recipientEmail, channel)
	observability.SSEClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(recipientEmail, channel)
		observability.SSEClientsActive().Dec()
	}

	return channel, cleanup
}

func subjectFor(kind events.Kind) string {
	switch kind {
	case events.KindSubmissionReceived:
		return "Submission received"
	case events.KindGradePosted:
		return "Grade posted"
	case events.KindRegistrationUpdated:
		return "Registration update"
	default:
		return "Notification"
	}
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

func (b *notificationBroker) subscribe(recipient string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[recipient]; !exists {
		b.subscribers[recipient] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[recipient][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(recipient string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[recipient]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, recipient)
		}
	}
}

func (b *notificationBroker) broadcast(recipient string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[recipient] {
		select {
		case ch <- notification:
		default:
		}
	}
}
