package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueueSize   = 64
	defaultPublishWait = 5 * time.Second
)

// Kind identifies the workflow transition that produced an event.
type Kind string

const (
	// KindSubmissionReceived fires after a submission is created or replaced.
	KindSubmissionReceived Kind = "submission.received"
	// KindGradePosted fires after the grading transition commits.
	KindGradePosted Kind = "grade.posted"
	// KindRegistrationUpdated fires when directory gate flags change.
	KindRegistrationUpdated Kind = "registration.updated"
)

// Event is an outbound domain event appended after a state transition has
// committed. Consumers perform the notification fan-out; publishing never
// fails the transition that produced the event, though a saturated queue
// briefly backpressures the publisher instead of losing the event.
type Event struct {
	ID         string                 `json:"id"`
	Kind       Kind                   `json:"kind"`
	Recipient  string                 `json:"recipient"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Source     string                 `json:"source,omitempty"`
}

// New builds an event with a fresh identifier and timestamp.
func New(kind Kind, recipient, message string, eventContext map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Recipient:  recipient,
		Message:    message,
		Context:    eventContext,
		OccurredAt: time.Now().UTC(),
	}
}

// Handler consumes a dispatched event.
type Handler func(ctx context.Context, event Event)

// Bus dispatches events to local handlers through a buffered queue and
// bridges them to Redis pub/sub and NATS so other nodes can react. Events
// received from the bridge are routed to remote handlers only, so durable
// side effects run exactly once, on the publishing node.
type Bus struct {
	logger       zerolog.Logger
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	natsQueue    string
	nodeID       string

	queue       chan Event
	publishWait time.Duration

	mu      sync.RWMutex
	local   []Handler
	remote  []Handler
	started bool
}

// NewBus constructs an event bus. Both the Redis client and the NATS
// connection are optional; without them the bus is purely in-process.
func NewBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *Bus {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &Bus{
		logger:       logger.With().Str("component", "event_bus").Logger(),
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		natsQueue:    "coursework-events",
		nodeID:       uuid.NewString(),
		queue:        make(chan Event, defaultQueueSize),
		publishWait:  defaultPublishWait,
	}
}

// SubscribeLocal registers a handler for events published on this node.
func (b *Bus) SubscribeLocal(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.local = append(b.local, handler)
}

// SubscribeRemote registers a handler for events bridged from other nodes.
func (b *Bus) SubscribeRemote(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = append(b.remote, handler)
}

// Publish appends the event to the dispatch queue. A full queue blocks the
// caller for at most publishWait while the dispatcher drains; the durable
// notification record hangs off this event, so it is not discarded the
// moment the buffer fills.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.Source == "" {
		event.Source = b.nodeID
	}

	select {
	case b.queue <- event:
		return
	default:
	}

	timer := time.NewTimer(b.publishWait)
	defer timer.Stop()

	select {
	case b.queue <- event:
	case <-ctx.Done():
		b.logger.Error().
			Str("event_id", event.ID).
			Str("kind", string(event.Kind)).
			Msg("publish canceled with event queue full")
	case <-timer.C:
		b.logger.Error().
			Str("event_id", event.ID).
			Str("kind", string(event.Kind)).
			Msg("event queue full, giving up after wait")
	}
}

// Start launches the dispatcher and, when configured, the bridge consumers.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.dispatch(ctx)
	if b.redis != nil && b.redisChannel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *Bus) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.mu.RLock()
			handlers := make([]Handler, len(b.local))
			copy(handlers, b.local)
			b.mu.RUnlock()

			for _, handler := range handlers {
				handler(ctx, event)
			}

			if err := b.bridge(ctx, event); err != nil {
				b.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to bridge event")
			}
		}
	}
}

func (b *Bus) bridge(ctx context.Context, event Event) error {
	if (b.redis == nil || b.redisChannel == "") && (b.nats == nil || b.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (b *Bus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error().Err(err).Msg("event redis subscription closed")
			return
		}
		b.handleBridged(ctx, []byte(msg.Payload))
	}
}

func (b *Bus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.QueueSubscribe(b.natsSubject, b.natsQueue, func(msg *nats.Msg) {
		b.handleBridged(ctx, msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain nats event subscription")
		}
	}()
}

func (b *Bus) handleBridged(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn().Err(err).Msg("invalid bridged event payload")
		return
	}

	if event.Source == b.nodeID {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.remote))
	copy(handlers, b.remote)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}
}
