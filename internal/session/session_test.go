package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, ok := s.Get("5511999@s.whatsapp.net")
	assert.False(t, ok)

	s.Activate("5511999@s.whatsapp.net", "financeiro")
	category, ok := s.Get("5511999@s.whatsapp.net")
	require.True(t, ok)
	assert.Equal(t, "financeiro", category)

	s.Activate("5511999@s.whatsapp.net", "suporte")
	category, _ = s.Get("5511999@s.whatsapp.net")
	assert.Equal(t, "suporte", category, "at most one category per conversation")
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.End("5511999@s.whatsapp.net"))
	assert.False(t, s.End("5511999@s.whatsapp.net"))
	assert.Equal(t, 0, s.Len())
}

func TestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chat := fmt.Sprintf("chat-%d", i%10)
			s.Activate(chat, "cat")
			_, _ = s.Get(chat)
			if i%3 == 0 {
				s.End(chat)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, s.Len(), 10)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	k := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("chat")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.size(), "entries are released when idle")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	k := NewKeyedMutex()
	unlockA := k.Lock("a")

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}

	unlockA()
	unlockA()
	assert.Equal(t, 0, k.size())
}
