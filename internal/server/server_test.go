package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/zapbot/internal/cache"
	"github.com/edgard/zapbot/internal/config"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/ingest"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/metrics"
	"github.com/edgard/zapbot/internal/queue"
	"github.com/edgard/zapbot/internal/resilience"
)

const apiKey = "s3cret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type fakeIngester struct {
	outcome ingest.Outcome
	err     error
	raw     []byte
}

func (f *fakeIngester) Ingest(_ context.Context, raw []byte) (ingest.Outcome, error) {
	f.raw = raw
	return f.outcome, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeInvalidator struct{ categories []string }

func (f *fakeInvalidator) Invalidate(category string) {
	f.categories = append(f.categories, category)
}

type fixture struct {
	server    *Server
	ingester  *fakeIngester
	mgr       *queue.Manager
	cache     *cache.Memory
	knowledge *fakeInvalidator
}

func newFixture(t *testing.T, pingErr error) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Server.APIKey = apiKey

	mgr := queue.NewManager(logger, nil)
	require.NoError(t, jobs.SetupQueues(mgr, cfg.Queues))

	f := &fixture{
		ingester:  &fakeIngester{outcome: ingest.OutcomeCreated},
		mgr:       mgr,
		cache:     cache.NewMemory(time.Now),
		knowledge: &fakeInvalidator{},
	}
	f.server = New(Deps{
		Logger:    logger,
		Config:    cfg,
		Ingest:    f.ingester,
		Store:     fakePinger{err: pingErr},
		Cache:     f.cache,
		Queues:    mgr,
		Knowledge: f.knowledge,
		Metrics:   metrics.New(),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		outcome    ingest.Outcome
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "created", outcome: ingest.OutcomeCreated, wantStatus: http.StatusOK, wantBody: "created"},
		{name: "skipped", outcome: ingest.OutcomeSkipped, wantStatus: http.StatusOK, wantBody: "skipped"},
		{name: "ignored", outcome: ingest.OutcomeIgnored, wantStatus: http.StatusOK, wantBody: "ignored"},
		{name: "validation", err: apperr.NewValidationError("event is missing the message id", nil), wantStatus: http.StatusBadRequest},
		{name: "storage", err: apperr.NewStorageError("failed to save message", errors.New("locked")), wantStatus: http.StatusServiceUnavailable},
		{name: "unknown", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.ingester.outcome, f.ingester.err = tt.outcome, tt.err

			rec := f.do(t, http.MethodPost, "/webhook", `{"event":"messages.upsert"}`, false)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, `{"event":"messages.upsert"}`, string(f.ingester.raw))
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, decode(t, rec)["status"])
			}
		})
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	f := newFixture(t, nil)
	f.server.deps.Config.Server.MaxBodyBytes = 16

	rec := f.do(t, http.MethodPost, "/webhook", strings.Repeat("x", 64), false)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	down := newFixture(t, apperr.NewStorageError("database ping failed", errors.New("closed")))
	rec = down.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminRequiresAPIKey(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/queues/media-processing/failed", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/queues/media-processing/failed", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForceSummary(t *testing.T) {
	f := newFixture(t, nil)

	// A pending cached request for the same chat must not absorb the forced one.
	_, err := jobs.EnqueueSummary(context.Background(), f.mgr, jobs.SummaryPayload{
		ChatID: "120363@g.us", Period: "6h", RequesterID: "5511@s.whatsapp.net",
	}, jobs.PriorityInteractive)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/summaries", `{"chatId":"120363@g.us","period":"6h","requesterId":"5511@s.whatsapp.net"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "summary:120363@g.us:6h:5511@s.whatsapp.net:force", body["jobId"])
	assert.Equal(t, config.QueueSummary, body["queue"])
	assert.Equal(t, false, body["existing"])

	q, ok := f.mgr.Queue(config.QueueSummary)
	require.True(t, ok)
	info, ok := q.Get("summary:120363@g.us:6h:5511@s.whatsapp.net:force")
	require.True(t, ok)
	var payload jobs.SummaryPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.True(t, payload.Force)

	rec = f.do(t, http.MethodPost, "/api/summaries", `{"chatId":"120363@g.us","period":"2h"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/summaries", `{"period":"1h"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendOperatorMessage(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/chats/5511@s.whatsapp.net/messages", `{"text":"Cardápio do dia","mediaUrl":"https://cdn.example.com/menu.pdf","mediaKind":"document"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id, _ := decode(t, rec)["jobId"].(string)

	q, ok := f.mgr.Queue(config.QueueResponse)
	require.True(t, ok)
	info, ok := q.Get(id)
	require.True(t, ok)
	var payload jobs.ResponsePayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	assert.Equal(t, jobs.ResponsePayload{
		ChatID:    "5511@s.whatsapp.net",
		Content:   "Cardápio do dia",
		Context:   "operator",
		MediaURL:  "https://cdn.example.com/menu.pdf",
		MediaKind: "document",
	}, payload)

	rec = f.do(t, http.MethodPost, "/api/chats/5511@s.whatsapp.net/messages", `{"text":"  "}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats/5511@s.whatsapp.net/messages", `{"mediaUrl":"https://cdn.example.com/a.png","mediaKind":"sticker"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentMessages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.cache.Append(ctx, cache.RecentKey("120363@g.us"), "[2025-03-06 22:30] Ana: oi", 10, time.Hour))

	rec := f.do(t, http.MethodGet, "/api/chats/120363@g.us/recent", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"[2025-03-06 22:30] Ana: oi"}, decode(t, rec)["messages"])

	rec = f.do(t, http.MethodGet, "/api/chats/empty@g.us/recent", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["messages"])
}

func TestInvalidateKnowledge(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodDelete, "/api/knowledge/Financeiro/cache", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"financeiro"}, f.knowledge.categories)
}

func TestFailedJobsAndRetry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := make(chan queue.Event, 16)
	mgr := queue.NewManager(logger, queue.ObserverFunc(func(ev queue.Event) { events <- ev }))
	q := mgr.AddQueue("media-processing", queue.Config{
		MaxAttempts:   1,
		Backoff:       resilience.Backoff{Kind: resilience.BackoffFixed, Delay: time.Millisecond},
		Timeout:       time.Second,
		KeepCompleted: 10,
		KeepFailed:    10,
	})
	require.NoError(t, q.Process("audio", 1, func(context.Context, *queue.Job) error {
		return errors.New("quota exceeded")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	cfg := config.Default()
	cfg.Server.APIKey = apiKey
	srv := New(Deps{Logger: logger, Config: cfg, Queues: mgr, Store: fakePinger{}, Cache: cache.NewMemory(time.Now)})
	f := &fixture{server: srv}

	handle, err := mgr.Enqueue(context.Background(), "media-processing", "audio", map[string]string{"messageId": "m1"}, 3)
	require.NoError(t, err)
	waitFailed := func() {
		t.Helper()
		for {
			select {
			case ev := <-events:
				if ev.Kind == queue.EventFailed {
					return
				}
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for dead letter")
			}
		}
	}
	waitFailed()

	rec := f.do(t, http.MethodGet, "/api/queues/media-processing/failed", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Jobs []queue.Info `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Jobs, 1)
	assert.Equal(t, handle.ID, listing.Jobs[0].ID)
	assert.Equal(t, "quota exceeded", listing.Jobs[0].LastError)

	rec = f.do(t, http.MethodPost, "/api/queues/media-processing/jobs/"+handle.ID+"/retry", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	waitFailed()

	rec = f.do(t, http.MethodPost, "/api/queues/media-processing/jobs/missing/retry", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/queues/nope/failed", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
