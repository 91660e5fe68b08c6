package text

import (
	"github.com/edgard/zapbot/internal/database"
)

// messageOverheadTokens approximates the transcript prefix of each line.
const messageOverheadTokens = 15

// DynamicWindow selects messages based on token limits.
type DynamicWindow struct {
	MaxTokens int
}

// NewDynamicWindow creates a new dynamic window manager
func NewDynamicWindow(maxTokens int) *DynamicWindow {
	return &DynamicWindow{MaxTokens: maxTokens}
}

// EstimateTokens provides a ballpark token count that works across models.
func EstimateTokens(text string) int {
	return len(text)/3 + 5
}

// SelectMessages keeps the newest messages that fit the budget left after
// the fixed prompt, returned in chronological order. messages must already
// be chronological.
func (dw *DynamicWindow) SelectMessages(messages []*database.Message, promptTokens int) []*database.Message {
	available := dw.MaxTokens - promptTokens
	if available <= 0 || len(messages) == 0 {
		return nil
	}

	used := 0
	first := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(messages[i].Content) + messageOverheadTokens
		if used+cost > available {
			break
		}
		used += cost
		first = i
	}

	return messages[first:]
}
