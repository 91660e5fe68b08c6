package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/zapbot/internal/bot/handlers"
	"github.com/edgard/zapbot/internal/cache"
	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/gemini"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/knowledge"
	"github.com/edgard/zapbot/internal/queue"
)

var testNow = time.Date(2025, 3, 6, 22, 30, 0, 0, time.UTC)

const (
	userChat  = "5511999990000@s.whatsapp.net"
	groupChat = "120363000000000000@g.us"
)

type fakeStore struct {
	mu        sync.Mutex
	processed []string
	recent    []*database.Message
	limit     int
}

func (s *fakeStore) GetRecentMessagesInChat(_ context.Context, _ string, limit int) ([]*database.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	return s.recent, nil
}

func (s *fakeStore) MarkMessageProcessed(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = append(s.processed, id)
	return nil
}

type fakeAI struct {
	mu        sync.Mutex
	answerErr error
	history   []*database.Message
	passages  []gemini.Passage
}

func (f *fakeAI) Answer(_ context.Context, history []*database.Message, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = history
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return "resposta: " + question, nil
}

func (f *fakeAI) AnswerFromKnowledge(_ context.Context, question string, passages []gemini.Passage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passages = passages
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return "base: " + question, nil
}

type fakeSearcher struct {
	results    []knowledge.Result
	err        error
	categories []string
}

func (f *fakeSearcher) Search(_ context.Context, _, category string) ([]knowledge.Result, error) {
	f.categories = append(f.categories, category)
	return f.results, f.err
}

type enqueued struct {
	queue, jobType string
	payload        any
	priority       int
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, queueName, jobType string, payload any, priority int, _ ...queue.Option) (queue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueued{queueName, jobType, payload, priority})
	return queue.Handle{ID: fmt.Sprint(len(q.jobs)), Queue: queueName}, nil
}

func (q *fakeQueue) replies() []jobs.ResponsePayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []jobs.ResponsePayload
	for _, j := range q.jobs {
		if p, ok := j.payload.(jobs.ResponsePayload); ok {
			out = append(out, p)
		}
	}
	return out
}

type fixture struct {
	router   *Router
	store    *fakeStore
	ai       *fakeAI
	searcher *fakeSearcher
	queue    *fakeQueue
	cache    *cache.Memory
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    &fakeStore{},
		ai:       &fakeAI{},
		searcher: &fakeSearcher{},
		queue:    &fakeQueue{},
		cache:    cache.NewMemory(func() time.Time { return testNow }),
		cfg:      config.Default(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	commands := handlers.RegisterAllCommands(handlers.HandlerDeps{
		Logger:    logger,
		Config:    f.cfg,
		Queue:     f.queue,
		Knowledge: f.searcher,
	})
	commands["falha"] = handlers.RegisteredHandler{
		Name: "falha",
		Handler: func(context.Context, *database.Message, string) (string, error) {
			return "", errors.New("boom")
		},
	}

	f.router = New(Deps{
		Logger:    logger,
		Config:    f.cfg,
		Store:     f.store,
		AI:        f.ai,
		Knowledge: f.searcher,
		Cache:     f.cache,
		Queue:     f.queue,
		Commands:  commands,
		Now:       func() time.Time { return testNow },
	})
	return f
}

var seq int

func textMsg(chatID, content string) *database.Message {
	seq++
	return &database.Message{
		ID:         fmt.Sprintf("m%d", seq),
		ChatID:     chatID,
		SenderID:   "5511999990000",
		SenderName: "Ana",
		Type:       database.MessageText,
		Content:    content,
		IsGroup:    chatID == groupChat,
		CreatedAt:  testNow,
	}
}

func (f *fixture) route(t *testing.T, msg *database.Message) {
	t.Helper()
	require.NoError(t, f.router.Route(context.Background(), msg))
}

func (f *fixture) lastReply(t *testing.T) jobs.ResponsePayload {
	t.Helper()
	replies := f.queue.replies()
	require.NotEmpty(t, replies)
	return replies[len(replies)-1]
}

func TestSupportSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.searcher.results = []knowledge.Result{{Content: "Prazo de 5 dias.", Source: "manual", Similarity: 0.9}}

	f.route(t, textMsg(userChat, "!!suporte Financeiro"))
	category, active := f.router.deps.Sessions.Get(userChat)
	require.True(t, active)
	assert.Equal(t, "financeiro", category)
	assert.Equal(t, fmt.Sprintf(f.cfg.Messages.SupportActivated, "financeiro"), f.lastReply(t).Content)

	q := textMsg(userChat, "qual o prazo?")
	f.route(t, q)
	reply := f.lastReply(t)
	assert.Equal(t, "base: qual o prazo?", reply.Content)
	assert.Equal(t, q.ID, reply.MessageID)
	assert.Equal(t, []string{"financeiro"}, f.searcher.categories)
	assert.Equal(t, []gemini.Passage{{Content: "Prazo de 5 dias.", Source: "manual"}}, f.ai.passages)

	f.route(t, textMsg(userChat, "  OBRIGADO \n"))
	_, active = f.router.deps.Sessions.Get(userChat)
	assert.False(t, active)
	assert.Equal(t, f.cfg.Messages.SupportFarewell, f.lastReply(t).Content)

	f.route(t, textMsg(userChat, "obrigado"))
	assert.Equal(t, "resposta: obrigado", f.lastReply(t).Content, "idle thanks is plain text")
}

func TestSupportToggleEnd(t *testing.T) {
	f := newFixture(t)

	f.route(t, textMsg(userChat, "!!suporte"))
	_, active := f.router.deps.Sessions.Get(userChat)
	assert.False(t, active)
	assert.Equal(t, f.cfg.Messages.SupportUsage, f.lastReply(t).Content)

	f.route(t, textMsg(userChat, "!!suporte vendas"))
	f.route(t, textMsg(userChat, "!!encerrar"))
	_, active = f.router.deps.Sessions.Get(userChat)
	assert.False(t, active)
	assert.Equal(t, f.cfg.Messages.SupportFarewell, f.lastReply(t).Content)

	replies := len(f.queue.replies())
	stray := textMsg(userChat, "!!encerrar")
	f.route(t, stray)
	assert.Len(t, f.queue.replies(), replies, "ending an idle chat sends nothing")
	assert.Contains(t, f.store.processed, stray.ID)
}

func TestSupportFallbacks(t *testing.T) {
	t.Run("search error", func(t *testing.T) {
		f := newFixture(t)
		f.searcher.err = errors.New("embed failed")
		f.route(t, textMsg(userChat, "!!suporte vendas"))
		f.route(t, textMsg(userChat, "tem desconto?"))
		assert.Equal(t, f.cfg.Messages.NoAnswer, f.lastReply(t).Content)
	})

	t.Run("empty corpus", func(t *testing.T) {
		f := newFixture(t)
		f.route(t, textMsg(userChat, "!!suporte vendas"))
		f.route(t, textMsg(userChat, "tem desconto?"))
		assert.Equal(t, f.cfg.Messages.NoAnswer, f.lastReply(t).Content)
		assert.Nil(t, f.ai.passages)
	})

	t.Run("ai error", func(t *testing.T) {
		f := newFixture(t)
		f.searcher.results = []knowledge.Result{{Content: "x"}}
		f.ai.answerErr = errors.New("503")
		f.route(t, textMsg(userChat, "!!suporte vendas"))
		f.route(t, textMsg(userChat, "tem desconto?"))
		assert.Equal(t, f.cfg.Messages.Apology, f.lastReply(t).Content)
	})
}

func TestSupportActiveTreatsCommandsAsQuestions(t *testing.T) {
	f := newFixture(t)
	f.searcher.results = []knowledge.Result{{Content: "x"}}

	f.route(t, textMsg(userChat, "!!suporte vendas"))
	f.route(t, textMsg(userChat, "!ajuda"))
	assert.Equal(t, "base: !ajuda", f.lastReply(t).Content)
}

func TestOneShotCommands(t *testing.T) {
	f := newFixture(t)

	help := textMsg(userChat, "!AJUDA")
	f.route(t, help)
	reply := f.lastReply(t)
	assert.Equal(t, f.cfg.Messages.Help, reply.Content)
	assert.Contains(t, f.store.processed, help.ID)

	history := textMsg(userChat, "!historico 6h")
	f.route(t, history)
	last := f.queue.jobs[len(f.queue.jobs)-1]
	assert.Equal(t, config.QueueSummary, last.queue)
	assert.Equal(t, jobs.SummaryPayload{ChatID: userChat, Period: "6h", RequesterID: userChat}, last.payload)
	assert.Contains(t, f.store.processed, history.ID)

	failing := textMsg(userChat, "!falha")
	f.route(t, failing)
	assert.Equal(t, f.cfg.Messages.CommandFailed, f.lastReply(t).Content)
	assert.Contains(t, f.store.processed, failing.ID)

	before := len(f.queue.jobs)
	unknown := textMsg(userChat, "!desconhecido abc")
	f.route(t, unknown)
	assert.Len(t, f.queue.jobs, before)
	assert.Contains(t, f.store.processed, unknown.ID)
}

func TestPlainTextUsesHistory(t *testing.T) {
	f := newFixture(t)
	msg := textMsg(userChat, "oi, tudo bem?")
	older := textMsg(userChat, "mensagem anterior")
	f.store.recent = []*database.Message{older, msg}

	f.route(t, msg)
	assert.Equal(t, f.cfg.Router.HistoryMessages+1, f.store.limit)
	assert.Equal(t, []*database.Message{older}, f.ai.history)
	reply := f.lastReply(t)
	assert.Equal(t, "resposta: oi, tudo bem?", reply.Content)
	assert.Equal(t, msg.ID, reply.MessageID)

	f.ai.answerErr = errors.New("quota")
	f.route(t, textMsg(userChat, "de novo"))
	assert.Equal(t, f.cfg.Messages.Apology, f.lastReply(t).Content)
}

func TestMediaIsQueuedByKind(t *testing.T) {
	f := newFixture(t)
	msg := textMsg(userChat, "")
	msg.Type = database.MessageAudio
	msg.MediaURL = "https://cdn/a.ogg"

	f.route(t, msg)
	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, config.QueueMedia, job.queue)
	assert.Equal(t, "audio", job.jobType)
	assert.Equal(t, 3, job.priority)
	assert.Empty(t, f.store.processed, "the media job marks it processed")
}

func TestFromMeIsNotRouted(t *testing.T) {
	f := newFixture(t)
	msg := textMsg(userChat, "!!suporte vendas")
	msg.FromMe = true

	f.route(t, msg)
	assert.Empty(t, f.queue.jobs)
	_, active := f.router.deps.Sessions.Get(userChat)
	assert.False(t, active)
}

func TestGroupMessages(t *testing.T) {
	f := newFixture(t)

	chatter := textMsg(groupChat, "bom dia pessoal")
	f.route(t, chatter)
	assert.Empty(t, f.queue.jobs)
	assert.Contains(t, f.store.processed, chatter.ID)
	recent, err := f.cache.Range(context.Background(), cache.RecentKey(groupChat))
	require.NoError(t, err)
	assert.Equal(t, []string{"[2025-03-06 22:30] Ana: bom dia pessoal"}, recent)

	f.route(t, textMsg(groupChat, "!resumo 6h"))
	f.route(t, textMsg(groupChat, "alguém faz um #RESUMO?"))
	f.route(t, textMsg(groupChat, "!resumo 99h"))
	require.Len(t, f.queue.jobs, 3)
	assert.Equal(t, jobs.SummaryPayload{ChatID: groupChat, Period: "6h"}, f.queue.jobs[0].payload)
	assert.Equal(t, jobs.SummaryPayload{ChatID: groupChat, Period: "24h"}, f.queue.jobs[1].payload)
	assert.Equal(t, jobs.SummaryPayload{ChatID: groupChat, Period: "24h"}, f.queue.jobs[2].payload)

	recent, err = f.cache.Range(context.Background(), cache.RecentKey(groupChat))
	require.NoError(t, err)
	assert.Len(t, recent, 1, "summary requests are not logged")
}

func TestConcurrentTogglesStayConsistent(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := "!!suporte vendas"
			if i%2 == 1 {
				content = "!!encerrar"
			}
			assert.NoError(t, f.router.Route(context.Background(), &database.Message{
				ID: fmt.Sprintf("c%d", i), ChatID: userChat, Type: database.MessageText, Content: content,
			}))
		}(i)
	}
	wg.Wait()

	f.route(t, textMsg(userChat, "!!encerrar"))
	_, active := f.router.deps.Sessions.Get(userChat)
	assert.False(t, active)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Command
	}{
		{"olá", Command{}},
		{"", Command{}},
		{"!", Command{}},
		{"! ajuda", Command{}},
		{"!ajuda", Command{Kind: CommandOneShot, Name: "ajuda"}},
		{"  !Buscar financeiro  qual o prazo? ", Command{Kind: CommandOneShot, Name: "buscar", Args: "financeiro  qual o prazo?"}},
		{"!!suporte Vendas", Command{Kind: CommandToggle, Name: "suporte", Args: "Vendas"}},
		{"!!ENCERRAR", Command{Kind: CommandToggle, Name: "encerrar"}},
		{"!!", Command{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.in, "!"), "input %q", tt.in)
	}
}
