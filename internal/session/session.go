// Package session keeps per-conversation support state in memory.
package session

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// Store maps a conversation id to its active support category. A missing
// entry means the conversation is idle.
type Store struct {
	shards [shardCount]*shard
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{sessions: make(map[string]string)}
	}
	return s
}

func (s *Store) shard(chatID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns the active category for chatID.
func (s *Store) Get(chatID string) (string, bool) {
	sh := s.shard(chatID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	category, ok := sh.sessions[chatID]
	return category, ok
}

// Activate replaces any existing session for chatID.
func (s *Store) Activate(chatID, category string) {
	sh := s.shard(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[chatID] = category
}

// End clears the session and reports whether one existed.
func (s *Store) End(chatID string) bool {
	sh := s.shard(chatID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.sessions[chatID]
	delete(sh.sessions, chatID)
	return ok
}

// Len counts active sessions.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
