package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/edgard/zapbot/internal/config"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/resilience"
	"github.com/edgard/zapbot/internal/text"
)

// MediaRef points at media to send back out.
type MediaRef struct {
	URL      string
	Kind     string // image, video, audio or document
	MimeType string
	FileName string
}

// Media is a downloaded attachment.
type Media struct {
	Data     []byte
	MimeType string
}

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// PartialSendError reports a split text of which only the first Sent parts
// reached the conversation.
type PartialSendError struct {
	Sent  int
	Total int
	Err   error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("delivered %d of %d parts: %v", e.Sent, e.Total, e.Err)
}

func (e *PartialSendError) Unwrap() error { return e.Err }

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client sends messages through the Evolution API and downloads inbound media.
type Client struct {
	baseURL       string
	apiKey        string
	instance      string
	maxMediaBytes int64
	maxLength     int
	timeout       time.Duration

	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// NewClient builds a gateway client. maxLength is the reply size above which
// texts are split into several messages.
func NewClient(cfg config.GatewayConfig, timeout time.Duration, maxLength int, logger *slog.Logger) *Client {
	log := logger.With("component", "gateway")
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		instance:      cfg.Instance,
		maxMediaBytes: cfg.MaxMediaBytes,
		maxLength:     maxLength,
		timeout:       timeout,
		http:          &http.Client{},
		limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "gateway",
			MaxFailures: cfg.BreakerFailures,
			OpenTimeout: cfg.BreakerTimeout,
			IsFailure:   isTransient,
			Logger:      log,
		}),
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     resilience.Backoff{Kind: resilience.BackoffExponential, Delay: cfg.RetryDelay},
			Retryable:   isTransient,
		},
		logger: log,
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Media     string `json:"media"`
	FileName  string `json:"fileName,omitempty"`
}

// SendText delivers text to a conversation, split into several messages when
// it exceeds the configured length.
// A failure after some parts went out returns a *PartialSendError in the
// chain, since resending the whole body would duplicate those parts.
func (c *Client) SendText(ctx context.Context, chatID, body string) error {
	parts := text.Split(body, c.maxLength)
	for i, part := range parts {
		req := sendTextRequest{Number: chatID, Text: part}
		if err := c.post(ctx, "/message/sendText/", req); err != nil {
			if i > 0 {
				err = &PartialSendError{Sent: i, Total: len(parts), Err: err}
			}
			return apperr.NewDeliveryError(fmt.Sprintf("failed to send text part %d to %s", i+1, chatID), err)
		}
	}
	c.logger.DebugContext(ctx, "Text delivered", "chat_id", chatID, "length", len(body))
	return nil
}

// SendMedia delivers a media reference with an optional caption.
func (c *Client) SendMedia(ctx context.Context, chatID string, media MediaRef, caption string) error {
	req := sendMediaRequest{
		Number:    chatID,
		MediaType: media.Kind,
		MimeType:  media.MimeType,
		Caption:   caption,
		Media:     media.URL,
		FileName:  media.FileName,
	}
	if err := c.post(ctx, "/message/sendMedia/", req); err != nil {
		return apperr.NewDeliveryError(fmt.Sprintf("failed to send media to %s", chatID), err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	endpoint := c.baseURL + path + url.PathEscape(c.instance)

	return resilience.WithRetry(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("apikey", c.apiKey)

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		})
	}, c.retry)
}

// Download fetches inbound media, bounded by the configured size, and sniffs
// its MIME type when the server does not provide a specific one.
func (c *Client) Download(ctx context.Context, mediaURL string) (*Media, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, apperr.NewValidationError("invalid media url", err)
	}
	if strings.HasPrefix(mediaURL, c.baseURL) {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.NewDeliveryError("failed to download media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		return nil, apperr.NewDeliveryError("failed to download media", statusErr)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxMediaBytes+1))
	if err != nil {
		return nil, apperr.NewDeliveryError("failed to read media", err)
	}
	if int64(len(data)) > c.maxMediaBytes {
		return nil, apperr.NewValidationError(fmt.Sprintf("media exceeds %d bytes", c.maxMediaBytes), nil)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = mimetype.Detect(data).String()
	}
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	return &Media{Data: data, MimeType: mimeType}, nil
}

// isTransient reports whether a send error is worth retrying and counts
// against the circuit breaker.
func isTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}
