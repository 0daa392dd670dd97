package datatypes

// Roles for conversation turns. The llm clients translate these into each
// provider's wire-level role names.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one element of a conversation history. Immutable once appended.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CloneHistory returns a copy of a conversation so callers can extend it
// without mutating the stored history.
func CloneHistory(history []Turn) []Turn {
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}
