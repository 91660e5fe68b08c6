package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const eventBuffer = 128

// Manager owns the named queues, their worker goroutines and the event
// dispatcher that feeds the observer.
type Manager struct {
	logger   *slog.Logger
	observer Observer
	events   chan Event

	mu       sync.Mutex
	queues   map[string]*Queue
	runCtx   context.Context
	stopping bool
	workers  sync.WaitGroup
}

// NewManager creates a manager. observer may be nil.
func NewManager(logger *slog.Logger, observer Observer) *Manager {
	return &Manager{
		logger:   logger.With("component", "queue"),
		observer: observer,
		events:   make(chan Event, eventBuffer),
		queues:   make(map[string]*Queue),
	}
}

// AddQueue creates the named queue, or returns it if it already exists.
func (m *Manager) AddQueue(name string, cfg Config) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok {
		return q
	}
	q := &Queue{
		name:    name,
		cfg:     cfg,
		mgr:     m,
		logger:  m.logger.With("queue", name),
		lanes:   make(map[string]*lane),
		pending: make(map[string]*Job),
	}
	m.queues[name] = q
	return q
}

// Queue looks up a queue by name.
func (m *Manager) Queue(name string) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	return q, ok
}

// Names returns the queue names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enqueue adds a job to the named queue.
func (m *Manager) Enqueue(ctx context.Context, queueName, jobType string, payload any, priority int, opts ...Option) (Handle, error) {
	q, ok := m.Queue(queueName)
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}
	return q.Enqueue(ctx, jobType, payload, priority, opts...)
}

// Run starts every registered worker pool and the event dispatcher, then
// blocks until ctx is done. On return all workers have exited and every
// emitted event has been delivered to the observer.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return fmt.Errorf("queue manager already running")
	}
	m.runCtx = ctx
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		m.dispatch()
	}()

	for _, q := range queues {
		q.mu.Lock()
		lanes := make([]*lane, 0, len(q.lanes))
		for _, l := range q.lanes {
			lanes = append(lanes, l)
		}
		q.mu.Unlock()
		for _, l := range lanes {
			m.startLane(q, l)
		}
	}
	m.logger.Info("queue manager started", "queues", len(queues))

	<-ctx.Done()

	m.mu.Lock()
	m.stopping = true
	for _, q := range m.queues {
		q.close()
	}
	m.mu.Unlock()

	m.workers.Wait()
	close(m.events)
	<-dispatched

	m.logger.Info("queue manager stopped")
	return nil
}

// startLane spawns the workers of l if the manager is running and they
// have not been started yet.
func (m *Manager) startLane(q *Queue, l *lane) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx == nil || m.stopping {
		return
	}

	q.mu.Lock()
	if l.handler == nil || l.started {
		q.mu.Unlock()
		return
	}
	l.started = true
	n := l.concurrency
	q.mu.Unlock()

	ctx := m.runCtx
	m.workers.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer m.workers.Done()
			q.work(ctx, l)
		}()
	}
	q.logger.Debug("workers started", "type", l.jobType, "concurrency", n)
}

func (m *Manager) emit(ev Event) {
	m.events <- ev
}

func (m *Manager) dispatch() {
	for ev := range m.events {
		if m.observer == nil {
			continue
		}
		m.observer.Observe(ev)
	}
}
