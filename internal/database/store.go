package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	apperr "github.com/edgard/zapbot/internal/errors"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts. Every
// returned error carries apperr.CodeStorage.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetMessage retrieves a message by provider id. Returns nil, nil if not found.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// InsertMessage stores a message unless its id already exists. It reports
	// whether a row was created.
	InsertMessage(ctx context.Context, message *Message) (bool, error)

	// MarkMessageProcessed flags a message processed. The first timestamp wins.
	MarkMessageProcessed(ctx context.Context, id string, at time.Time) error

	// GetMessagesInWindow returns up to limit of the newest messages of a chat
	// created in [start, end), in chronological order.
	GetMessagesInWindow(ctx context.Context, chatID string, start, end time.Time, limit int) ([]*Message, error)

	// GetRecentMessagesInChat returns the latest limit messages of a chat in
	// chronological order.
	GetRecentMessagesInChat(ctx context.Context, chatID string, limit int) ([]*Message, error)

	// ListActiveGroups returns group chat ids with messages since the given time.
	ListActiveGroups(ctx context.Context, since time.Time) ([]string, error)

	// UpsertProcessedMedia inserts or overwrites the media record of a message.
	UpsertProcessedMedia(ctx context.Context, media *ProcessedMedia) error

	// GetProcessedMedia returns the media record of a message, or nil, nil.
	GetProcessedMedia(ctx context.Context, messageID string) (*ProcessedMedia, error)

	// UpsertGroupSummary inserts or overwrites the summary keyed by
	// (chat, period, start date).
	UpsertGroupSummary(ctx context.Context, summary *GroupSummary) error

	// GetGroupSummary returns the summary for one window, or nil, nil.
	GetGroupSummary(ctx context.Context, chatID, period string, start time.Time) (*GroupSummary, error)

	// HasGroupSummarySince reports whether a summary row was created since the given time.
	HasGroupSummarySince(ctx context.Context, chatID, period string, since time.Time) (bool, error)

	// LoadKnowledge returns the corpus of a category in insertion order.
	LoadKnowledge(ctx context.Context, category string) ([]*KnowledgeChunk, error)

	// ReplaceKnowledge atomically swaps the corpus of a category.
	ReplaceKnowledge(ctx context.Context, category string, chunks []*KnowledgeChunk) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
// Queries are written with ? placeholders and rebound for the driver.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.NewStorageError("database ping failed", err)
	}
	return nil
}

func (s *sqlxStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	query := s.db.Rebind(`SELECT * FROM messages WHERE message_id = ?`)
	if err := s.db.GetContext(ctx, &msg, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.storageError(ctx, "failed to get message", err, "message_id", id)
	}
	return &msg, nil
}

func (s *sqlxStore) InsertMessage(ctx context.Context, message *Message) (bool, error) {
	if message == nil {
		return false, apperr.NewValidationError("cannot save nil message", nil)
	}
	if message.ID == "" || message.ChatID == "" {
		return false, apperr.NewValidationError("message must have an id and a chat id", nil)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.CreatedAt = message.CreatedAt.UTC()

	query := `
        INSERT INTO messages (message_id, chat_id, sender_id, sender_name, message_type, content,
            media_url, media_type, is_group, from_me, processed, processed_at, instance_id, created_at)
        VALUES (:message_id, :chat_id, :sender_id, :sender_name, :message_type, :content,
            :media_url, :media_type, :is_group, :from_me, :processed, :processed_at, :instance_id, :created_at)
        ON CONFLICT (message_id) DO NOTHING`

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		return false, s.storageError(ctx, "failed to save message", err, "message_id", message.ID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, s.storageError(ctx, "failed to read affected rows", err, "message_id", message.ID)
	}

	return affected > 0, nil
}

func (s *sqlxStore) MarkMessageProcessed(ctx context.Context, id string, at time.Time) error {
	query := s.db.Rebind(`UPDATE messages SET processed = ?, processed_at = ? WHERE message_id = ? AND processed = ?`)
	if _, err := s.db.ExecContext(ctx, query, true, at.UTC(), id, false); err != nil {
		return s.storageError(ctx, "failed to mark message processed", err, "message_id", id)
	}
	return nil
}

func (s *sqlxStore) GetMessagesInWindow(ctx context.Context, chatID string, start, end time.Time, limit int) ([]*Message, error) {
	query := s.db.Rebind(`
        SELECT * FROM messages
        WHERE chat_id = ? AND created_at >= ? AND created_at < ?
        ORDER BY created_at DESC, message_id DESC
        LIMIT ?`)

	var messages []*Message
	if err := s.db.SelectContext(ctx, &messages, query, chatID, start.UTC(), end.UTC(), limit); err != nil {
		return nil, s.storageError(ctx, "failed to get messages in window", err, "chat_id", chatID)
	}

	reverse(messages)
	return messages, nil
}

func (s *sqlxStore) GetRecentMessagesInChat(ctx context.Context, chatID string, limit int) ([]*Message, error) {
	query := s.db.Rebind(`
        SELECT * FROM messages
        WHERE chat_id = ?
        ORDER BY created_at DESC, message_id DESC
        LIMIT ?`)

	var messages []*Message
	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		return nil, s.storageError(ctx, "failed to get recent messages", err, "chat_id", chatID)
	}

	reverse(messages)
	return messages, nil
}

func (s *sqlxStore) ListActiveGroups(ctx context.Context, since time.Time) ([]string, error) {
	query := s.db.Rebind(`
        SELECT DISTINCT chat_id FROM messages
        WHERE is_group = ? AND created_at >= ?
        ORDER BY chat_id`)

	var chatIDs []string
	if err := s.db.SelectContext(ctx, &chatIDs, query, true, since.UTC()); err != nil {
		return nil, s.storageError(ctx, "failed to list active groups", err)
	}
	return chatIDs, nil
}

func (s *sqlxStore) UpsertProcessedMedia(ctx context.Context, media *ProcessedMedia) error {
	now := time.Now().UTC()
	if media.CreatedAt.IsZero() {
		media.CreatedAt = now
	}
	media.UpdatedAt = now

	query := `
        INSERT INTO processed_media (message_id, media_type, media_url, transcription, description,
            summary, processing_status, processing_error, created_at, updated_at)
        VALUES (:message_id, :media_type, :media_url, :transcription, :description,
            :summary, :processing_status, :processing_error, :created_at, :updated_at)
        ON CONFLICT (message_id) DO UPDATE SET
            media_type = excluded.media_type,
            media_url = excluded.media_url,
            transcription = excluded.transcription,
            description = excluded.description,
            summary = excluded.summary,
            processing_status = excluded.processing_status,
            processing_error = excluded.processing_error,
            updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, query, media); err != nil {
		return s.storageError(ctx, "failed to upsert processed media", err, "message_id", media.MessageID)
	}
	return nil
}

func (s *sqlxStore) GetProcessedMedia(ctx context.Context, messageID string) (*ProcessedMedia, error) {
	var media ProcessedMedia
	query := s.db.Rebind(`SELECT * FROM processed_media WHERE message_id = ?`)
	if err := s.db.GetContext(ctx, &media, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.storageError(ctx, "failed to get processed media", err, "message_id", messageID)
	}
	return &media, nil
}

func (s *sqlxStore) UpsertGroupSummary(ctx context.Context, summary *GroupSummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}
	summary.CreatedAt = summary.CreatedAt.UTC()
	summary.StartDate = summary.StartDate.UTC()
	summary.EndDate = summary.EndDate.UTC()

	query := `
        INSERT INTO group_summaries (chat_id, summary_period, summary_text, message_count,
            start_date, end_date, created_at)
        VALUES (:chat_id, :summary_period, :summary_text, :message_count,
            :start_date, :end_date, :created_at)
        ON CONFLICT (chat_id, summary_period, start_date) DO UPDATE SET
            summary_text = excluded.summary_text,
            message_count = excluded.message_count,
            end_date = excluded.end_date,
            created_at = excluded.created_at`

	if _, err := s.db.NamedExecContext(ctx, query, summary); err != nil {
		return s.storageError(ctx, "failed to upsert group summary", err,
			"chat_id", summary.ChatID, "period", summary.Period)
	}
	return nil
}

func (s *sqlxStore) GetGroupSummary(ctx context.Context, chatID, period string, start time.Time) (*GroupSummary, error) {
	var summary GroupSummary
	query := s.db.Rebind(`
        SELECT * FROM group_summaries
        WHERE chat_id = ? AND summary_period = ? AND start_date = ?`)
	if err := s.db.GetContext(ctx, &summary, query, chatID, period, start.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, s.storageError(ctx, "failed to get group summary", err, "chat_id", chatID)
	}
	return &summary, nil
}

func (s *sqlxStore) HasGroupSummarySince(ctx context.Context, chatID, period string, since time.Time) (bool, error) {
	var count int
	query := s.db.Rebind(`
        SELECT COUNT(*) FROM group_summaries
        WHERE chat_id = ? AND summary_period = ? AND created_at >= ?`)
	if err := s.db.GetContext(ctx, &count, query, chatID, period, since.UTC()); err != nil {
		return false, s.storageError(ctx, "failed to check group summaries", err, "chat_id", chatID)
	}
	return count > 0, nil
}

func (s *sqlxStore) LoadKnowledge(ctx context.Context, category string) ([]*KnowledgeChunk, error) {
	query := s.db.Rebind(`SELECT * FROM knowledge_chunks WHERE category = ? ORDER BY position`)

	var chunks []*KnowledgeChunk
	if err := s.db.SelectContext(ctx, &chunks, query, category); err != nil {
		return nil, s.storageError(ctx, "failed to load knowledge", err, "category", category)
	}
	return chunks, nil
}

func (s *sqlxStore) ReplaceKnowledge(ctx context.Context, category string, chunks []*KnowledgeChunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.storageError(ctx, "failed to begin transaction", err, "category", category)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM knowledge_chunks WHERE category = ?`), category); err != nil {
		return s.storageError(ctx, "failed to clear knowledge", err, "category", category)
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO knowledge_chunks (category, position, content, source, embedding, created_at)
        VALUES (:category, :position, :content, :source, :embedding, :created_at)`
	for i, chunk := range chunks {
		chunk.Category = category
		chunk.Position = i
		chunk.CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, chunk); err != nil {
			return s.storageError(ctx, "failed to insert knowledge chunk", err, "category", category, "position", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.storageError(ctx, "failed to commit knowledge", err, "category", category)
	}

	s.logger.InfoContext(ctx, "Replaced knowledge corpus", "category", category, "chunks", len(chunks))
	return nil
}

// RunSQLMaintenance executes VACUUM. Both SQLite and PostgreSQL require it
// outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	_, err := s.db.ExecContext(ctx, "VACUUM")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return apperr.NewStorageError("database maintenance (VACUUM) timed out", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return apperr.NewStorageError("failed to execute VACUUM", err)
	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
		return nil
	}
}

func (s *sqlxStore) storageError(ctx context.Context, msg string, err error, attrs ...any) error {
	attrs = append(attrs, "error", err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, msg+" (timed out or cancelled)", attrs...)
	} else {
		s.logger.ErrorContext(ctx, msg, attrs...)
	}
	return apperr.NewStorageError(msg, err)
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

var _ Store = (*sqlxStore)(nil)
