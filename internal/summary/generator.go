// Package summary produces cached digests of conversation windows.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edgard/zapbot/internal/cache"
	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/gemini"
	"github.com/edgard/zapbot/internal/text"
)

// Store is the slice of the message store the generator needs.
type Store interface {
	GetMessagesInWindow(ctx context.Context, chatID string, start, end time.Time, limit int) ([]*database.Message, error)
	UpsertGroupSummary(ctx context.Context, summary *database.GroupSummary) error
}

// Summarizer produces the digest text.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*database.Message, period string) (string, error)
}

// Window is the time range a period covers at a given instant.
type Window struct {
	Start time.Time
	End   time.Time
	TTL   time.Duration
}

// Generator serves summaries from cache and generates them on a miss.
type Generator struct {
	store        Store
	cache        cache.Cache
	ai           Summarizer
	cfg          config.SummaryConfig
	cacheTimeout time.Duration
	window       *text.DynamicWindow
	now          func() time.Time
	flight       singleflight.Group
	logger       *slog.Logger
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(store Store, c cache.Cache, ai Summarizer, cfg config.SummaryConfig, cacheTimeout time.Duration, logger *slog.Logger, opts ...Option) *Generator {
	if cacheTimeout <= 0 {
		cacheTimeout = 2 * time.Second
	}
	g := &Generator{
		store:        store,
		cache:        c,
		ai:           ai,
		cfg:          cfg,
		cacheTimeout: cacheTimeout,
		window:       text.NewDynamicWindow(cfg.MaxContextTokens),
		now:          time.Now,
		logger:       logger.With("component", "summary"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window computes the window of period ending now. The start is truncated
// to the hour so every run within the same hour shares one identity.
func (g *Generator) Window(period string) (Window, error) {
	d, ok := g.cfg.Period(period)
	if !ok {
		return Window{}, apperr.NewValidationError(fmt.Sprintf("unknown summary period %q", period), nil)
	}
	end := g.now().UTC()
	return Window{
		Start: end.Add(-d).Truncate(time.Hour),
		End:   end,
		TTL:   time.Duration(float64(d) * g.cfg.TTLRatio),
	}, nil
}

// GetOrGenerate returns the cached summary of chatID for period, generating
// it on a miss. Concurrent misses share one generation.
func (g *Generator) GetOrGenerate(ctx context.Context, chatID, period string) (string, error) {
	if _, err := g.Window(period); err != nil {
		return "", err
	}

	key := cache.SummaryKey(chatID, period)
	if summary, ok := g.cached(ctx, key); ok {
		g.logger.DebugContext(ctx, "Summary cache hit", "chat_id", chatID, "period", period)
		return summary, nil
	}
	return g.generateShared(ctx, chatID, period)
}

// Regenerate ignores the cache, generates a fresh summary and writes it
// through to both the cache and the store.
func (g *Generator) Regenerate(ctx context.Context, chatID, period string) (string, error) {
	if _, err := g.Window(period); err != nil {
		return "", err
	}
	return g.generateShared(ctx, chatID, period)
}

func (g *Generator) generateShared(ctx context.Context, chatID, period string) (string, error) {
	v, err, shared := g.flight.Do(chatID+"|"+period, func() (any, error) {
		return g.generate(ctx, chatID, period)
	})
	if err != nil {
		return "", err
	}
	if shared {
		g.logger.DebugContext(ctx, "Joined in-flight summary generation", "chat_id", chatID, "period", period)
	}
	return v.(string), nil
}

func (g *Generator) generate(ctx context.Context, chatID, period string) (string, error) {
	w, err := g.Window(period)
	if err != nil {
		return "", err
	}

	messages, err := g.store.GetMessagesInWindow(ctx, chatID, w.Start, w.End, g.cfg.MaxMessages)
	if err != nil {
		return "", err
	}
	if len(messages) < g.cfg.MinMessages {
		g.logger.InfoContext(ctx, "Not enough messages to summarize", "chat_id", chatID, "period", period, "count", len(messages), "min", g.cfg.MinMessages)
		return "", apperr.ErrInsufficientData
	}

	selected := g.window.SelectMessages(messages, text.EstimateTokens(gemini.SummaryInstruction))
	if len(selected) == 0 {
		return "", apperr.ErrInsufficientData
	}
	if trimmed := len(messages) - len(selected); trimmed > 0 {
		g.logger.DebugContext(ctx, "Trimmed oldest messages to fit context", "chat_id", chatID, "trimmed", trimmed)
	}

	summary, err := g.ai.Summarize(ctx, selected, period)
	if err != nil {
		return "", err
	}

	g.writeCache(ctx, cache.SummaryKey(chatID, period), summary, w.TTL)

	row := &database.GroupSummary{
		ChatID:       chatID,
		Period:       period,
		Text:         summary,
		MessageCount: len(selected),
		StartDate:    w.Start,
		EndDate:      w.End,
		CreatedAt:    g.now().UTC(),
	}
	if err := g.store.UpsertGroupSummary(ctx, row); err != nil {
		// The digest already reached the cache; the caller still gets it.
		g.logger.ErrorContext(ctx, "Failed to persist summary", "chat_id", chatID, "period", period, "error", err)
	}

	g.logger.InfoContext(ctx, "Summary generated", "chat_id", chatID, "period", period, "messages", len(selected), "ttl", w.TTL)
	return summary, nil
}

func (g *Generator) cached(ctx context.Context, key string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.cacheTimeout)
	defer cancel()

	summary, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.WarnContext(ctx, "Summary cache read failed", "key", key, "error", err)
		return "", false
	}
	return summary, ok
}

func (g *Generator) writeCache(ctx context.Context, key, summary string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, g.cacheTimeout)
	defer cancel()

	if err := g.cache.Set(ctx, key, summary, ttl); err != nil {
		g.logger.WarnContext(ctx, "Summary cache write failed", "key", key, "error", err)
	}
}
