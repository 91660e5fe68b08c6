package database

import (
	"database/sql"
	"time"
)

// MessageType enumerates the canonical message kinds.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
)

// IsMedia reports whether the type carries a media reference.
func (t MessageType) IsMedia() bool {
	return t != MessageText && t != ""
}

// Message represents a canonical chat message keyed by the provider id.
type Message struct {
	ID          string       `db:"message_id"`
	ChatID      string       `db:"chat_id"`
	SenderID    string       `db:"sender_id"`
	SenderName  string       `db:"sender_name"`
	Type        MessageType  `db:"message_type"`
	Content     string       `db:"content"`
	MediaURL    string       `db:"media_url"`
	MediaType   string       `db:"media_type"`
	IsGroup     bool         `db:"is_group"`
	FromMe      bool         `db:"from_me"`
	Processed   bool         `db:"processed"`
	ProcessedAt sql.NullTime `db:"processed_at"`
	InstanceID  string       `db:"instance_id"`
	CreatedAt   time.Time    `db:"created_at"`
}

// MediaStatus is the lifecycle of a ProcessedMedia record.
type MediaStatus string

const (
	MediaPending   MediaStatus = "pending"
	MediaCompleted MediaStatus = "completed"
	MediaFailed    MediaStatus = "failed"
)

// ProcessedMedia holds the AI output for one media message. Only the field
// matching the media kind is populated.
type ProcessedMedia struct {
	MessageID     string      `db:"message_id"`
	MediaType     string      `db:"media_type"`
	MediaURL      string      `db:"media_url"`
	Transcription string      `db:"transcription"`
	Description   string      `db:"description"`
	Summary       string      `db:"summary"`
	Status        MediaStatus `db:"processing_status"`
	Error         string      `db:"processing_error"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

// Text returns whichever output field is populated.
func (p *ProcessedMedia) Text() string {
	switch {
	case p.Transcription != "":
		return p.Transcription
	case p.Description != "":
		return p.Description
	default:
		return p.Summary
	}
}

// GroupSummary is a generated digest of one conversation window.
type GroupSummary struct {
	ChatID       string    `db:"chat_id"`
	Period       string    `db:"summary_period"`
	Text         string    `db:"summary_text"`
	MessageCount int       `db:"message_count"`
	StartDate    time.Time `db:"start_date"`
	EndDate      time.Time `db:"end_date"`
	CreatedAt    time.Time `db:"created_at"`
}

// KnowledgeChunk is one embedded passage of a category corpus. Embedding is
// stored as a JSON array so the schema stays portable across drivers.
type KnowledgeChunk struct {
	Category  string    `db:"category"`
	Position  int       `db:"position"`
	Content   string    `db:"content"`
	Source    string    `db:"source"`
	Embedding Vector    `db:"embedding"`
	CreatedAt time.Time `db:"created_at"`
}
