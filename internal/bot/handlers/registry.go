package handlers

import (
	"context"

	"github.com/edgard/zapbot/internal/database"
)

// HandlerFunc runs a one-shot command. A non-empty reply is sent back to the
// chat; an empty reply means a queued job will answer.
type HandlerFunc func(ctx context.Context, msg *database.Message, args string) (reply string, err error)

// RegisteredHandler represents a command handler with its description and middleware.
type RegisteredHandler struct {
	Name        string
	Description string
	Handler     HandlerFunc
	Middleware  []Middleware
}

// Func returns the handler wrapped by its middleware, outermost first.
func (r RegisteredHandler) Func() HandlerFunc {
	h := r.Handler
	for i := len(r.Middleware) - 1; i >= 0; i-- {
		h = r.Middleware[i](h)
	}
	return h
}

// RegisterAllCommands initializes and returns a map of all one-shot commands
// keyed by their lower-case name.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	handlers := make(map[string]RegisteredHandler)
	logged := Logged(deps)

	handlers["ajuda"] = RegisteredHandler{
		Name:        "ajuda",
		Description: "lista os comandos",
		Handler:     NewHelpHandler(deps),
	}
	handlers["historico"] = RegisteredHandler{
		Name:        "historico",
		Description: "resumo desta conversa",
		Handler:     NewHistoryHandler(deps),
		Middleware:  []Middleware{logged},
	}
	handlers["buscar"] = RegisteredHandler{
		Name:        "buscar",
		Description: "busca na base de conhecimento",
		Handler:     NewSearchHandler(deps),
		Middleware:  []Middleware{logged, WithTimeout(deps.Config.Timeouts.AI)},
	}
	handlers["resumo"] = RegisteredHandler{
		Name:        "resumo",
		Description: "resumo de um grupo",
		Handler:     NewSummaryHandler(deps),
		Middleware:  []Middleware{logged},
	}
	handlers["aprender"] = RegisteredHandler{
		Name:        "aprender",
		Description: "cria a base de conhecimento deste contato",
		Handler:     NewLearnHandler(deps),
		Middleware:  []Middleware{logged},
	}

	return handlers
}
