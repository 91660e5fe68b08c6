package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgard/zapbot/internal/cache"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/queue"
)

func (s *Server) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.Config.Server.MaxBodyBytes)
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	outcome, err := s.deps.Ingest.Ingest(c.Request.Context(), raw)
	if err != nil {
		_ = c.Error(err)
		status := statusFor(err)
		body := gin.H{"error": http.StatusText(status)}
		if status == http.StatusBadRequest {
			body["error"] = err.Error()
		}
		c.AbortWithStatusJSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome})
}

// statusFor maps an ingestion error to its HTTP status. Storage failures are
// 503 so the gateway redelivers.
func statusFor(err error) int {
	switch apperr.Code(err) {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeStorage:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.Timeouts.Store)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type summaryRequest struct {
	ChatID      string `json:"chatId"      binding:"required"`
	Period      string `json:"period"`
	RequesterID string `json:"requesterId"`
}

// handleForceSummary queues a forced regeneration that refreshes both the
// stored row and the cache entry.
func (s *Server) handleForceSummary(c *gin.Context) {
	var req summaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	period := strings.ToLower(req.Period)
	if period == "" {
		period = s.deps.Config.Summary.DefaultPeriod
	}
	if _, ok := s.deps.Config.Summary.Period(period); !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown period " + req.Period})
		return
	}

	handle, err := jobs.EnqueueSummary(c.Request.Context(), s.deps.Queues, jobs.SummaryPayload{
		ChatID:      req.ChatID,
		Period:      period,
		RequesterID: req.RequesterID,
		Force:       true,
	}, jobs.PriorityInteractive)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": handle.ID, "queue": handle.Queue, "existing": handle.Existing})
}

type sendRequest struct {
	Text      string `json:"text"`
	MediaURL  string `json:"mediaUrl"  binding:"omitempty,url"`
	MediaKind string `json:"mediaKind" binding:"omitempty,oneof=image video audio document"`
}

// handleSend queues an operator message to a chat. Media is captioned with
// the text.
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.MediaURL == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text or mediaUrl is required"})
		return
	}
	if (req.MediaURL == "") != (req.MediaKind == "") {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mediaUrl and mediaKind go together"})
		return
	}

	handle, err := jobs.EnqueueReply(c.Request.Context(), s.deps.Queues, jobs.ResponsePayload{
		ChatID:    c.Param("chatId"),
		Content:   req.Text,
		Context:   "operator",
		MediaURL:  req.MediaURL,
		MediaKind: req.MediaKind,
	})
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": handle.ID, "queue": handle.Queue})
}

func (s *Server) handleRecent(c *gin.Context) {
	chatID := c.Param("chatId")

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.Config.Timeouts.Cache)
	defer cancel()
	messages, err := s.deps.Cache.Range(ctx, cache.RecentKey(chatID))
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "cache unavailable"})
		return
	}
	if messages == nil {
		messages = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"chatId": chatID, "messages": messages})
}

func (s *Server) handleFailedJobs(c *gin.Context) {
	q, ok := s.deps.Queues.Queue(c.Param("queue"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q.Name(), "stats": q.Stats(), "jobs": q.Failed()})
}

func (s *Server) handleRetryJob(c *gin.Context) {
	q, ok := s.deps.Queues.Queue(c.Param("queue"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}

	id := c.Param("id")
	switch err := q.Retry(id); {
	case errors.Is(err, queue.ErrJobNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no dead-lettered job " + id})
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.InfoContext(c.Request.Context(), "Dead-lettered job requeued by operator", "queue", q.Name(), "job_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "requeued", "jobId": id})
	}
}

func (s *Server) handleInvalidateKnowledge(c *gin.Context) {
	category := strings.ToLower(c.Param("category"))
	s.deps.Knowledge.Invalidate(category)
	s.logger.InfoContext(c.Request.Context(), "Knowledge cache invalidated", "category", category)
	c.Status(http.StatusNoContent)
}
