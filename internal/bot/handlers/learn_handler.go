package handlers

import (
	"context"
	"strings"

	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/jobs"
)

// NewLearnHandler returns a handler for the !aprender command, which rebuilds
// the contact's knowledge corpus from this chat's recent history.
func NewLearnHandler(deps HandlerDeps) HandlerFunc {
	return learnHandler{deps}.Handle
}

type learnHandler struct {
	deps HandlerDeps
}

func (h learnHandler) Handle(ctx context.Context, msg *database.Message, _ string) (string, error) {
	_, err := jobs.EnqueueBootstrap(ctx, h.deps.Queue, jobs.BootstrapPayload{
		ChatID:      msg.ChatID,
		Category:    ContactCategory(h.deps.Config.Knowledge.ContactPrefix, msg.ChatID),
		RequesterID: msg.ChatID,
	})
	return "", err
}

// ContactCategory is the knowledge category of a contact: the prefix followed
// by the number part of the chat id.
func ContactCategory(prefix, chatID string) string {
	number, _, _ := strings.Cut(chatID, "@")
	return prefix + number
}
