// Package gemini implements the AI operations of the bot on top of Google's
// Gemini API: conversational answers, grounded answers, summaries, media
// understanding and embeddings.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
	"github.com/edgard/zapbot/internal/text"
)

// Embedding task types understood by the embedding model.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// Passage is a retrieved knowledge chunk handed to AnswerFromKnowledge.
type Passage struct {
	Content string
	Source  string
}

// Client defines the AI operations used by the router and the job handlers.
type Client interface {
	Answer(ctx context.Context, history []*database.Message, question string) (string, error)
	AnswerFromKnowledge(ctx context.Context, question string, passages []Passage) (string, error)
	Summarize(ctx context.Context, messages []*database.Message, period string) (string, error)
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
	DescribeImage(ctx context.Context, data []byte, mimeType, caption string) (string, error)
	DescribeVideo(ctx context.Context, data []byte, mimeType, caption string) (string, error)
	SummarizeDocument(ctx context.Context, data []byte, mimeType, fileName string) (string, error)
	Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

type sdkClient struct {
	genaiClient    *genai.Client
	log            *slog.Logger
	contentConfig  *genai.GenerateContentConfig
	instruction    string
	model          string
	embeddingModel string
	timeout        time.Duration
}

// FormatMessage renders one transcript line.
func FormatMessage(m *database.Message) string {
	name := m.SenderName
	if name == "" {
		name = m.SenderID
	}
	content := m.Content
	if content == "" && m.Type.IsMedia() {
		content = "[" + string(m.Type) + "]"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("2006-01-02 15:04"), name, content)
}

// FormatTranscript renders messages one per line.
func FormatTranscript(messages []*database.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(FormatMessage(m))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatPassages numbers the passages for a grounded prompt.
func FormatPassages(passages []Passage) string {
	var sb strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s", i+1, strings.TrimSpace(p.Content))
		if p.Source != "" {
			fmt.Fprintf(&sb, " (fonte: %s)", p.Source)
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// NewClient creates a Gemini client. timeout bounds every API call.
func NewClient(ctx context.Context, cfg config.GeminiConfig, timeout time.Duration, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, apperr.NewConfigError("gemini API key is required", nil)
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	baseCfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
		},
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel)
	return &sdkClient{
		genaiClient:    gi,
		log:            logger,
		contentConfig:  baseCfg,
		instruction:    cfg.Instruction,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        timeout,
	}, nil
}

// withInstruction returns a copy of the base config with a system instruction.
func (c *sdkClient) withInstruction(instruction string) *genai.GenerateContentConfig {
	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	return &copyCfg
}

// generate calls the model once. Inline callers degrade to a fallback reply
// and queued callers rely on the queue's retries.
func (c *sdkClient) generate(ctx context.Context, op string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.genaiClient.Models.GenerateContent(callCtx, c.model, contents, cfg)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini API call failed", "operation", op, "code", apiErrorCode(err), "error", err)
		return "", apperr.NewUpstreamAIError(op+" failed", err)
	}
	return c.extractText(ctx, op, resp)
}

// apiErrorCode returns the HTTP status of a genai API error, or 0. The SDK
// returns APIError by value.
func apiErrorCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}

func (c *sdkClient) Answer(ctx context.Context, history []*database.Message, question string) (string, error) {
	c.log.DebugContext(ctx, "Generating answer", "history_count", len(history))

	var contents []*genai.Content
	for _, m := range history {
		var role genai.Role = genai.RoleUser
		if m.FromMe {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(FormatMessage(m), role))
	}
	contents = append(contents, genai.NewContentFromText(question, genai.RoleUser))

	return c.generate(ctx, "answer", contents, c.withInstruction(c.instruction+transcriptRules))
}

func (c *sdkClient) AnswerFromKnowledge(ctx context.Context, question string, passages []Passage) (string, error) {
	c.log.DebugContext(ctx, "Generating grounded answer", "passages", len(passages))

	instruction := fmt.Sprintf(KnowledgeInstruction, FormatPassages(passages))
	contents := []*genai.Content{genai.NewContentFromText(question, genai.RoleUser)}
	return c.generate(ctx, "knowledge_answer", contents, c.withInstruction(instruction))
}

func (c *sdkClient) Summarize(ctx context.Context, messages []*database.Message, period string) (string, error) {
	if len(messages) == 0 {
		return "", apperr.ErrInsufficientData
	}
	c.log.DebugContext(ctx, "Generating summary", "message_count", len(messages), "period", period)

	contents := []*genai.Content{genai.NewContentFromText(FormatTranscript(messages), genai.RoleUser)}
	return c.generate(ctx, "summarize", contents, c.withInstruction(fmt.Sprintf(SummaryInstruction, period)))
}

func (c *sdkClient) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	return c.media(ctx, "transcribe", data, mimeType, TranscriptionInstruction)
}

func (c *sdkClient) DescribeImage(ctx context.Context, data []byte, mimeType, caption string) (string, error) {
	return c.media(ctx, "describe_image", data, mimeType, fmt.Sprintf(ImageInstruction, caption))
}

func (c *sdkClient) DescribeVideo(ctx context.Context, data []byte, mimeType, caption string) (string, error) {
	return c.media(ctx, "describe_video", data, mimeType, fmt.Sprintf(VideoInstruction, caption))
}

func (c *sdkClient) SummarizeDocument(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	return c.media(ctx, "summarize_document", data, mimeType, fmt.Sprintf(DocumentInstruction, fileName))
}

func (c *sdkClient) media(ctx context.Context, op string, data []byte, mimeType, instruction string) (string, error) {
	c.log.DebugContext(ctx, "Analyzing media", "operation", op, "size", len(data), "mime_type", mimeType)
	if len(data) == 0 || mimeType == "" {
		return "", apperr.NewValidationError(op+": media data and MIME type are required", nil)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(instruction),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	cfg := *c.contentConfig
	return c.generate(ctx, op, contents, &cfg)
}

func (c *sdkClient) Embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.genaiClient.Models.EmbedContent(callCtx, c.embeddingModel, contents, &genai.EmbedContentConfig{TaskType: taskType})
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini embedding failed", "count", len(texts), "error", err)
		return nil, apperr.NewUpstreamAIError("embedding failed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.NewUpstreamAIError(fmt.Sprintf("embedding returned %d vectors for %d inputs", len(resp.Embeddings), len(texts)), nil)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *sdkClient) extractText(ctx context.Context, op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", apperr.NewUpstreamAIError(fmt.Sprintf("%s blocked by safety filter: %s", op, reasonMsg), nil)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing content", "operation", op, "finish_reason", finishReason)
		return "", apperr.NewUpstreamAIError(fmt.Sprintf("%s returned no content, finish reason: %s", op, finishReason), nil)
	}

	clean := text.Sanitize(resp.Text())
	if clean == "" {
		c.log.WarnContext(ctx, "Gemini response empty after sanitizing", "operation", op)
		return "", apperr.NewUpstreamAIError(op+" returned empty text", nil)
	}
	return clean, nil
}
