package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/zapbot/internal/database"
	"github.com/edgard/zapbot/internal/knowledge"
)

// NewSearchHandler returns a handler for the !buscar command.
func NewSearchHandler(deps HandlerDeps) HandlerFunc {
	return searchHandler{deps}.Handle
}

type searchHandler struct {
	deps HandlerDeps
}

func (h searchHandler) Handle(ctx context.Context, msg *database.Message, args string) (string, error) {
	category, query, _ := strings.Cut(strings.TrimSpace(args), " ")
	query = strings.TrimSpace(query)
	if category == "" || query == "" {
		return h.deps.Config.Messages.SearchUsage, nil
	}

	results, err := h.deps.Knowledge.Search(ctx, query, strings.ToLower(category))
	if err != nil {
		return "", fmt.Errorf("search %s: %w", category, err)
	}
	if len(results) == 0 {
		return h.deps.Config.Messages.NoAnswer, nil
	}
	return formatResults(results), nil
}

func formatResults(results []knowledge.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(r.Content))
		if r.Source != "" {
			fmt.Fprintf(&b, "\n(fonte: %s)", r.Source)
		}
	}
	return b.String()
}
