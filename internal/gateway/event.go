// Package gateway speaks the Evolution API dialect of the WhatsApp gateway:
// it decodes inbound webhook events into canonical messages and sends
// replies back out.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
)

// EventMessagesUpsert is the only event type that carries new messages.
const EventMessagesUpsert = "messages.upsert"

const groupSuffix = "@g.us"

// Event is the raw webhook envelope.
type Event struct {
	Event      string     `json:"event"`
	InstanceID string     `json:"instanceId"`
	Data       *EventData `json:"data"`
}

type EventData struct {
	ID                   string       `json:"id"`
	RemoteConversationID string       `json:"remoteConversationId"`
	ParticipantID        string       `json:"participantId,omitempty"`
	FromMe               bool         `json:"fromMe"`
	PushName             string       `json:"pushName,omitempty"`
	Timestamp            UnixTime     `json:"timestamp"`
	MessageBody          *MessageBody `json:"messageBody"`
}

// MessageBody carries at most one populated variant.
type MessageBody struct {
	Conversation        *string       `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaPayload `json:"imageMessage,omitempty"`
	AudioMessage        *MediaPayload `json:"audioMessage,omitempty"`
	VideoMessage        *MediaPayload `json:"videoMessage,omitempty"`
	DocumentMessage     *MediaPayload `json:"documentMessage,omitempty"`
	StickerMessage      *MediaPayload `json:"stickerMessage,omitempty"`
}

type ExtendedText struct {
	Text string `json:"text"`
}

type MediaPayload struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// UnixTime accepts epoch seconds as a JSON number or numeric string.
type UnixTime int64

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", b, err)
	}
	*u = UnixTime(v)
	return nil
}

// Time converts to time.Time; zero stays zero.
func (u UnixTime) Time() time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(int64(u), 0).UTC()
}

// Variant is the decoded shape of a message body.
type Variant interface {
	apply(m *database.Message)
}

type (
	TextVariant struct{ Text string }
	// MediaVariant covers every media kind; Kind says which one.
	MediaVariant struct {
		Kind    database.MessageType
		Payload MediaPayload
	}
	// Unrecognized is returned for bodies without a known variant.
	Unrecognized struct{}
)

func (v TextVariant) apply(m *database.Message) {
	m.Type = database.MessageText
	m.Content = v.Text
}

func (v MediaVariant) apply(m *database.Message) {
	m.Type = v.Kind
	m.Content = v.Payload.Caption
	if m.Content == "" && v.Kind == database.MessageDocument {
		m.Content = v.Payload.FileName
	}
	m.MediaURL = v.Payload.URL
	m.MediaType = v.Payload.Mimetype
	if m.MediaType == "" {
		m.MediaType = string(v.Kind)
	}
}

func (Unrecognized) apply(*database.Message) {}

// Variant resolves the populated variant, in a fixed precedence order.
func (b *MessageBody) Variant() Variant {
	if b == nil {
		return Unrecognized{}
	}
	switch {
	case b.Conversation != nil:
		return TextVariant{Text: *b.Conversation}
	case b.ExtendedTextMessage != nil:
		return TextVariant{Text: b.ExtendedTextMessage.Text}
	case b.ImageMessage != nil:
		return MediaVariant{Kind: database.MessageImage, Payload: *b.ImageMessage}
	case b.AudioMessage != nil:
		return MediaVariant{Kind: database.MessageAudio, Payload: *b.AudioMessage}
	case b.VideoMessage != nil:
		return MediaVariant{Kind: database.MessageVideo, Payload: *b.VideoMessage}
	case b.DocumentMessage != nil:
		return MediaVariant{Kind: database.MessageDocument, Payload: *b.DocumentMessage}
	case b.StickerMessage != nil:
		return MediaVariant{Kind: database.MessageSticker, Payload: *b.StickerMessage}
	default:
		return Unrecognized{}
	}
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, apperr.NewValidationError("malformed event payload", err)
	}
	return &ev, nil
}

// Relevant reports whether the event carries a message to ingest.
func (e *Event) Relevant() bool {
	return e != nil && e.Event == EventMessagesUpsert && e.Data != nil
}

// IsGroupChat reports whether a conversation id names a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupSuffix)
}

// ToMessage maps a relevant event to its canonical Message. receivedAt is
// used when the event has no timestamp.
func (e *Event) ToMessage(receivedAt time.Time) (*database.Message, error) {
	d := e.Data
	if d == nil {
		return nil, apperr.NewValidationError("event has no data", nil)
	}
	if strings.TrimSpace(d.ID) == "" {
		return nil, apperr.NewValidationError("event is missing the message id", nil)
	}
	if strings.TrimSpace(d.RemoteConversationID) == "" {
		return nil, apperr.NewValidationError("event is missing the conversation id", nil)
	}

	variant := d.MessageBody.Variant()
	if _, ok := variant.(Unrecognized); ok {
		return nil, apperr.NewValidationError(fmt.Sprintf("unrecognized message body in %s", d.ID), nil)
	}

	msg := &database.Message{
		ID:         d.ID,
		ChatID:     d.RemoteConversationID,
		SenderID:   d.RemoteConversationID,
		SenderName: d.PushName,
		IsGroup:    IsGroupChat(d.RemoteConversationID),
		FromMe:     d.FromMe,
		InstanceID: e.InstanceID,
		CreatedAt:  d.Timestamp.Time(),
	}
	if msg.IsGroup && d.ParticipantID != "" {
		msg.SenderID = d.ParticipantID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = receivedAt.UTC()
	}
	variant.apply(msg)

	return msg, nil
}
