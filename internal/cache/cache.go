// Package cache provides the shared key/value and bounded-list cache used for
// summary digests and the rolling recent-messages log of group chats.
package cache

import (
	"context"
	"time"
)

// Cache is implemented by the Redis backend and the in-process fallback.
type Cache interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key for ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Append pushes value to the list at key, keeps only the newest maxLen
	// entries and refreshes the list TTL.
	Append(ctx context.Context, key, value string, maxLen int, ttl time.Duration) error
	// Range returns the list at key, oldest first.
	Range(ctx context.Context, key string) ([]string, error)
	Close() error
}

// SummaryKey is the cache key of a conversation digest.
func SummaryKey(chatID, period string) string {
	return "summary:" + chatID + ":" + period
}

// RecentKey is the cache key of a group's rolling message log.
func RecentKey(chatID string) string {
	return "recent:" + chatID
}
