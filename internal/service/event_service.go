package service

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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/souffle-edu/souffle-api/internal/observability"
)

const eventBufferSize = 16

// Submission lifecycle events.
const (
	EventSubmissionCreated   = "submission.created"
	EventAnalysisCompleted   = "submission.analysis.completed"
	EventAnalysisFailed      = "submission.analysis.failed"
	submissionEventWildcard  = "submission.>"
	submissionEventQueueName = "souffle-submission-events"
)

// SubmissionEvent announces a change in a submission's processing state.
type SubmissionEvent struct {
	Type         string    `json:"type"`
	SubmissionID uint      `json:"submission_id"`
	UserID       uint      `json:"user_id"`
	ProblemID    uint      `json:"problem_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventService fans submission events out to local subscribers and to the other
// API and worker processes.
type EventService interface {
	Publish(ctx context.Context, event SubmissionEvent)
	Subscribe(submissionID uint) (<-chan SubmissionEvent, func())
	Start(ctx context.Context)
}

type eventService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsPrefix   string
	logger       zerolog.Logger
	tracer       trace.Tracer
	broker       *eventBroker
	nodeID       string
}

type eventEnvelope struct {
	Source string          `json:"source"`
	Event  SubmissionEvent `json:"event"`
}

type eventBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan SubmissionEvent]struct{}
}

// NewEventService constructs the event service. NATS is used for cross-process delivery
// when connected, Redis pub/sub otherwise. With neither, events stay in-process.
func NewEventService(redisClient *redis.Client, natsConn *nats.Conn, prefix string, logger zerolog.Logger) EventService {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".:")
	if prefix == "" {
		prefix = "souffle"
	}

	return &eventService{
		redis:        redisClient,
		redisChannel: prefix + ":submission-events",
		nats:         natsConn,
		natsPrefix:   strings.ReplaceAll(prefix, ":", ".") + ".",
		logger:       logger.With().Str("component", "event_service").Logger(),
		tracer:       observability.Tracer("service/events"),
		broker: &eventBroker{
			subscribers: make(map[uint]map[chan SubmissionEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *eventService) Start(ctx context.Context) {
	switch {
	case s.nats != nil:
		s.consumeNATS(ctx)
	case s.redis != nil:
		go s.consumeRedis(ctx)
	}
}

// Publish delivers to local subscribers first. Broker failures are logged and never
// surface to callers.
func (s *eventService) Publish(ctx context.Context, event SubmissionEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	ctx, span := s.tracer.Start(ctx, "events.publish", trace.WithAttributes(
		attribute.String("event.type", event.Type),
		attribute.Int("submission.id", int(event.SubmissionID)),
	))
	defer span.End()

	s.broker.broadcast(event)

	if err := s.publish(ctx, event); err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("event", event.Type).Uint("submission_id", event.SubmissionID).Msg("failed to publish submission event")
	}
}

func (s *eventService) Subscribe(submissionID uint) (<-chan SubmissionEvent, func()) {
	channel := make(chan SubmissionEvent, eventBufferSize)
	s.broker.subscribe(submissionID, channel)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { s.broker.unsubscribe(submissionID, channel) })
	}
	return channel, cleanup
}

func (s *eventService) publish(ctx context.Context, event SubmissionEvent) error {
	payload, err := json.Marshal(eventEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		return err
	}

	if s.nats != nil {
		return s.nats.Publish(s.natsPrefix+event.Type, payload)
	}
	if s.redis != nil {
		return s.redis.Publish(ctx, s.redisChannel, payload).Err()
	}
	return nil
}

func (s *eventService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("submission event redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

func (s *eventService) consumeNATS(ctx context.Context) {
	// Every API node needs every event, so each one subscribes on its own queue group.
	sub, err := s.nats.QueueSubscribe(s.natsPrefix+submissionEventWildcard, submissionEventQueueName+"-"+s.nodeID, func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats submission events")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain submission event subscription")
		}
	}()
}

func (s *eventService) handleEnvelope(payload []byte) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid submission event payload")
		return
	}
	if envelope.Source == s.nodeID {
		return
	}
	s.broker.broadcast(envelope.Event)
}

func (b *eventBroker) subscribe(submissionID uint, ch chan SubmissionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[submissionID]; !exists {
		b.subscribers[submissionID] = make(map[chan SubmissionEvent]struct{})
	}
	b.subscribers[submissionID][ch] = struct{}{}
}

func (b *eventBroker) unsubscribe(submissionID uint, ch chan SubmissionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[submissionID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, submissionID)
		}
	}
}

func (b *eventBroker) broadcast(event SubmissionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.SubmissionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
