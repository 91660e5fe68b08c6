package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/zapbot/internal/database"
	apperr "github.com/edgard/zapbot/internal/errors"
)

func TestToMessageVariants(t *testing.T) {
	t.Parallel()

	received := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		body      string
		wantType  database.MessageType
		wantText  string
		wantMedia string
	}{
		{"conversation", `{"conversation":"oi"}`, database.MessageText, "oi", ""},
		{"extended text", `{"extendedTextMessage":{"text":"olá"}}`, database.MessageText, "olá", ""},
		{"image with caption", `{"imageMessage":{"url":"https://m/1.jpg","mimetype":"image/jpeg","caption":"foto"}}`, database.MessageImage, "foto", "https://m/1.jpg"},
		{"audio", `{"audioMessage":{"url":"https://m/a.ogg","mimetype":"audio/ogg"}}`, database.MessageAudio, "", "https://m/a.ogg"},
		{"video", `{"videoMessage":{"url":"https://m/v.mp4"}}`, database.MessageVideo, "", "https://m/v.mp4"},
		{"document falls back to file name", `{"documentMessage":{"url":"https://m/d.pdf","fileName":"contrato.pdf"}}`, database.MessageDocument, "contrato.pdf", "https://m/d.pdf"},
		{"sticker", `{"stickerMessage":{"url":"https://m/s.webp"}}`, database.MessageSticker, "", "https://m/s.webp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := `{"event":"messages.upsert","instanceId":"inst","data":{"id":"ABC","remoteConversationId":"5511@s.whatsapp.net","pushName":"Ana","timestamp":1714564800,"messageBody":` + tt.body + `}}`
			ev, err := ParseEvent([]byte(raw))
			require.NoError(t, err)
			require.True(t, ev.Relevant())

			msg, err := ev.ToMessage(received)
			require.NoError(t, err)
			assert.Equal(t, "ABC", msg.ID)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.wantText, msg.Content)
			assert.Equal(t, tt.wantMedia, msg.MediaURL)
			assert.Equal(t, "inst", msg.InstanceID)
			assert.Equal(t, "Ana", msg.SenderName)
			assert.False(t, msg.IsGroup)
			assert.Equal(t, time.Unix(1714564800, 0).UTC(), msg.CreatedAt)
		})
	}
}

func TestToMessageGroupUsesParticipant(t *testing.T) {
	t.Parallel()

	raw := `{"event":"messages.upsert","data":{"id":"G1","remoteConversationId":"123@g.us","participantId":"5511@s.whatsapp.net","timestamp":"1714564800","messageBody":{"conversation":"bom dia"}}}`
	ev, err := ParseEvent([]byte(raw))
	require.NoError(t, err)

	msg, err := ev.ToMessage(time.Now())
	require.NoError(t, err)
	assert.True(t, msg.IsGroup)
	assert.Equal(t, "123@g.us", msg.ChatID)
	assert.Equal(t, "5511@s.whatsapp.net", msg.SenderID)
}

func TestToMessageDefaultsTimestamp(t *testing.T) {
	t.Parallel()

	received := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ev, err := ParseEvent([]byte(`{"event":"messages.upsert","data":{"id":"X","remoteConversationId":"1@s.whatsapp.net","messageBody":{"conversation":"a"}}}`))
	require.NoError(t, err)

	msg, err := ev.ToMessage(received)
	require.NoError(t, err)
	assert.Equal(t, received, msg.CreatedAt)
}

func TestToMessageValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"unrecognized body", `{"event":"messages.upsert","data":{"id":"X","remoteConversationId":"1@s.whatsapp.net","messageBody":{"reactionMessage":{"text":"👍"}}}}`},
		{"missing body", `{"event":"messages.upsert","data":{"id":"X","remoteConversationId":"1@s.whatsapp.net"}}`},
		{"missing id", `{"event":"messages.upsert","data":{"remoteConversationId":"1@s.whatsapp.net","messageBody":{"conversation":"a"}}}`},
		{"missing chat", `{"event":"messages.upsert","data":{"id":"X","messageBody":{"conversation":"a"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := ParseEvent([]byte(tt.raw))
			require.NoError(t, err)
			_, err = ev.ToMessage(time.Now())
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
		})
	}
}

func TestRelevant(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent([]byte(`{"event":"connection.update","data":{"state":"open"}}`))
	require.NoError(t, err)
	assert.False(t, ev.Relevant())

	ev, err = ParseEvent([]byte(`{"event":"messages.upsert"}`))
	require.NoError(t, err)
	assert.False(t, ev.Relevant())

	_, err = ParseEvent([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}
