// Package ingest turns raw gateway webhook events into persisted canonical
// messages, dropping duplicates before they reach the router.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/gateway"
	"github.com/edgard/zapbot/internal/metrics"
)

// Outcome is the result of ingesting one event.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeIgnored Outcome = "ignored"
)

// Store is the slice of the message store used for dedup.
type Store interface {
	GetMessage(ctx context.Context, id string) (*database.Message, error)
	InsertMessage(ctx context.Context, message *database.Message) (bool, error)
}

// Router receives newly created messages.
type Router interface {
	Route(ctx context.Context, msg *database.Message) error
}

// Gate deduplicates and persists inbound events.
type Gate struct {
	store        Store
	router       Router
	metrics      *metrics.Metrics
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the receive-time clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate. m may be nil.
func NewGate(store Store, router Router, storeTimeout time.Duration, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:        store,
		router:       router,
		metrics:      m,
		logger:       logger.With("component", "ingest"),
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ingest processes one raw webhook body. Malformed events return a
// validation error and store failures a retryable storage error. Router
// failures are logged and never fail a created message.
func (g *Gate) Ingest(ctx context.Context, raw []byte) (Outcome, error) {
	outcome, msg, err := g.persist(ctx, raw)
	if err != nil {
		g.record("error")
		return outcome, err
	}
	g.record(string(outcome))
	if outcome != OutcomeCreated {
		return outcome, nil
	}

	// The message is stored; routing must finish even if the webhook caller
	// goes away.
	routeCtx := context.WithoutCancel(ctx)
	if err := g.router.Route(routeCtx, msg); err != nil {
		g.logger.ErrorContext(ctx, "Failed to route message", "message_id", msg.ID, "chat_id", msg.ChatID, "error", err)
	}
	return outcome, nil
}

func (g *Gate) persist(ctx context.Context, raw []byte) (Outcome, *database.Message, error) {
	ev, err := gateway.ParseEvent(raw)
	if err != nil {
		return "", nil, err
	}
	if !ev.Relevant() {
		g.logger.DebugContext(ctx, "Ignoring event", "event", ev.Event, "instance_id", ev.InstanceID)
		return OutcomeIgnored, nil, nil
	}

	msg, err := ev.ToMessage(g.now())
	if err != nil {
		g.logger.WarnContext(ctx, "Rejecting invalid event", "instance_id", ev.InstanceID, "error", err)
		return "", nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	existing, err := g.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		g.logger.DebugContext(ctx, "Skipping duplicate message", "message_id", msg.ID)
		return OutcomeSkipped, nil, nil
	}

	created, err := g.store.InsertMessage(ctx, msg)
	if err != nil {
		return "", nil, err
	}
	if !created {
		g.logger.DebugContext(ctx, "Lost insert race, skipping", "message_id", msg.ID)
		return OutcomeSkipped, nil, nil
	}

	g.logger.InfoContext(ctx, "Message ingested",
		"message_id", msg.ID,
		"chat_id", msg.ChatID,
		"type", msg.Type,
		"group", msg.IsGroup,
		"from_me", msg.FromMe)
	return OutcomeCreated, msg, nil
}

func (g *Gate) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.storeTimeout)
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.Ingested(outcome)
	}
}
