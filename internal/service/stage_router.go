package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coverletter-api/internal/observability"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// RoutingEvent tells the owner of ToStage that a cover letter entered their queue.
type RoutingEvent struct {
	Source        string         `json:"source"`
	EntryID       string         `json:"entry_id"`
	FromStage     workflow.Stage `json:"from_stage,omitempty"`
	ToStage       workflow.Stage `json:"to_stage"`
	TargetRole    workflow.Role  `json:"target_role,omitempty"`
	Department    string         `json:"department"`
	ActorID       string         `json:"actor_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	RoutedAt      time.Time      `json:"routed_at"`
}

// StageRouter forwards cover letters to the queue of the next actor.
type StageRouter interface {
	Route(ctx context.Context, event RoutingEvent) error
}

// RoutingHandler receives routing events published by other nodes.
type RoutingHandler func(event RoutingEvent)

// BrokerStageRouter publishes routing events over Redis pub/sub and NATS.
// Either transport may be nil.
type BrokerStageRouter struct {
	redis       *redis.Client
	nats        *nats.Conn
	channelBase string
	logger      zerolog.Logger
	nodeID      string

	mu       sync.RWMutex
	handlers []RoutingHandler
}

// NewBrokerStageRouter constructs a router publishing under channelBase.
func NewBrokerStageRouter(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *BrokerStageRouter {
	base := strings.TrimSpace(channelBase)
	if base == "" {
		base = "coverletter"
	}

	return &BrokerStageRouter{
		redis:       redisClient,
		nats:        natsConn,
		channelBase: base,
		logger:      logger.With().Str("component", "stage_router").Logger(),
		nodeID:      uuid.NewString(),
	}
}

// RedisChannel returns the pub/sub channel for a stage queue.
func (r *BrokerStageRouter) RedisChannel(stage workflow.Stage) string {
	return fmt.Sprintf("%s:cover-letters:%s", r.channelBase, strings.ToLower(string(stage)))
}

// NATSSubject returns the NATS subject for a stage queue.
func (r *BrokerStageRouter) NATSSubject(stage workflow.Stage) string {
	base := strings.ReplaceAll(r.channelBase, ":", ".")
	return fmt.Sprintf("%s.cover-letters.%s", base, strings.ToLower(string(stage)))
}

// OnRouted registers a handler for events received from other nodes.
func (r *BrokerStageRouter) OnRouted(handler RoutingHandler) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

func (r *BrokerStageRouter) Route(ctx context.Context, event RoutingEvent) error {
	if !event.ToStage.Valid() {
		return fmt.Errorf("cannot route to unknown stage %q", event.ToStage)
	}

	event.Source = r.nodeID
	if event.TargetRole == "" {
		if role, ok := workflow.OwnerOf(event.ToStage); ok {
			event.TargetRole = role
		}
	}
	if event.RoutedAt.IsZero() {
		event.RoutedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if r.redis != nil {
		if err := r.redis.Publish(ctx, r.RedisChannel(event.ToStage), payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish: %w", err))
		}
	}
	if r.nats != nil {
		if err := r.nats.Publish(r.NATSSubject(event.ToStage), payload); err != nil {
			errs = append(errs, fmt.Errorf("nats publish: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	observability.CoverLetterRouted().WithLabelValues(string(event.ToStage)).Inc()
	r.logger.Debug().
		Str("entry_id", event.EntryID).
		Str("to_stage", string(event.ToStage)).
		Str("target_role", string(event.TargetRole)).
		Msg("cover letter routed")

	return nil
}

// Start subscribes to every stage queue on the configured transports. Subscriptions
// are established before Start returns and are released when ctx is done.
func (r *BrokerStageRouter) Start(ctx context.Context) error {
	if r.redis != nil {
		channels := make([]string, 0, len(workflow.Stages))
		for _, stage := range workflow.Stages {
			channels = append(channels, r.RedisChannel(stage))
		}

		pubsub := r.redis.Subscribe(ctx, channels...)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return fmt.Errorf("subscribe to redis routing channels: %w", err)
		}
		go r.consumeRedis(ctx, pubsub)
	}

	if r.nats != nil {
		subject := strings.ReplaceAll(r.channelBase, ":", ".") + ".cover-letters.*"
		sub, err := r.nats.QueueSubscribe(subject, "coverletter-routing", func(msg *nats.Msg) {
			r.handle(msg.Data, "nats")
		})
		if err != nil {
			return fmt.Errorf("subscribe to nats routing subject: %w", err)
		}

		go func() {
			<-ctx.Done()
			if err := sub.Drain(); err != nil {
				r.logger.Warn().Err(err).Msg("failed to drain routing nats subscription")
			}
		}()
	}

	return nil
}

func (r *BrokerStageRouter) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Msg("routing redis subscription closed")
			return
		}
		r.handle([]byte(msg.Payload), "redis")
	}
}

func (r *BrokerStageRouter) handle(payload []byte, transport string) {
	var event RoutingEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.logger.Warn().Err(err).Str("transport", transport).Msg("invalid routing event payload")
		return
	}

	if event.Source == r.nodeID {
		return
	}

	observability.CoverLetterRoutingReceived().WithLabelValues(string(event.ToStage), transport).Inc()

	r.mu.RLock()
	handlers := append([]RoutingHandler(nil), r.handlers...)
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
