// Package handlers contains the one-shot chat commands, along with their
// registration logic and middleware.
package handlers

import (
	"context"
	"time"

	"github.com/edgard/zapbot/internal/database"
)

// Middleware decorates a command handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Logged creates a middleware that logs each command invocation and its outcome.
func Logged(deps HandlerDeps) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *database.Message, args string) (string, error) {
			log := deps.Logger.With("middleware", "Logged", "chat_id", msg.ChatID, "message_id", msg.ID)
			start := time.Now()

			reply, err := next(ctx, msg, args)
			if err != nil {
				log.ErrorContext(ctx, "Command failed", "error", err, "duration", time.Since(start))
				return reply, err
			}

			log.InfoContext(ctx, "Command handled", "queued", reply == "", "duration", time.Since(start))
			return reply, nil
		}
	}
}

// WithTimeout bounds the handler's context. A non-positive d disables it.
func WithTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *database.Message, args string) (string, error) {
			if d <= 0 {
				return next(ctx, msg, args)
			}
			timeoutCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(timeoutCtx, msg, args)
		}
	}
}
