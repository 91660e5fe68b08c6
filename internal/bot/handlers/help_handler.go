package handlers

import (
	"context"

	"github.com/edgard/zapbot/internal/database"
)

// NewHelpHandler returns a handler for the !ajuda command.
func NewHelpHandler(deps HandlerDeps) HandlerFunc {
	return helpHandler{deps}.Handle
}

// helpHandler replies with the command list from config.
type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(ctx context.Context, msg *database.Message, _ string) (string, error) {
	h.deps.Logger.DebugContext(ctx, "Handling !ajuda command", "handler", "help", "chat_id", msg.ChatID)
	return h.deps.Config.Messages.Help, nil
}
