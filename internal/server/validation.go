package server

import (
	"fmt"

	"modelrelay/internal/core"
)

// validateChatRequest rejects malformed single-model requests before any
// upstream resource is allocated.
func validateChatRequest(req *core.ChatRequest) error {
	if req.Model == "" {
		return core.NewInvalidRequestError("model must not be empty", nil)
	}
	return validateMessages(req.Messages)
}

// validateMessages checks that the conversation is non-empty and every
// message carries a recognized role.
func validateMessages(messages []core.Message) error {
	if len(messages) == 0 {
		return core.NewInvalidRequestError("messages must not be empty", nil)
	}
	for i, m := range messages {
		if !core.ValidRole(m.Role) {
			return core.NewInvalidRequestError(fmt.Sprintf("messages[%d]: unrecognized role %q", i, m.Role), nil)
		}
	}
	return nil
}
