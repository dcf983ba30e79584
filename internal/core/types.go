// Package core provides shared request/response types and the error
// taxonomy for the relay.
package core

// Recognized message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the recognized roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single message in a conversation. Messages are
// constructed from client input and forwarded verbatim to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries optional generation parameters, passed through to the
// backend untouched.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// ChatRequest represents an incoming single-model chat request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
	Options  *Options  `json:"options,omitempty"`
}

// CompareRequest represents an incoming multi-model comparison request.
type CompareRequest struct {
	Models   []string  `json:"models"`
	Messages []Message `json:"messages"`
	Options  *Options  `json:"options,omitempty"`
}

// ChatResult is the single JSON body returned for a non-streaming chat
// request, once the upstream session has been driven to completion.
type ChatResult struct {
	Model         string  `json:"model"`
	Message       Message `json:"message"`
	TotalDuration int64   `json:"total_duration"`
	EvalCount     int     `json:"eval_count"`
}
