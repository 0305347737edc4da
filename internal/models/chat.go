package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Message roles accepted from callers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a role-tagged unit of conversation. Order within a slice is
// conversation order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Validate implements validation.Validatable.
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Role, validation.Required, validation.In(RoleUser, RoleAssistant)),
		validation.Field(&m.Content, validation.Required),
	)
}

// UserMessage is shorthand for a user-role Message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is shorthand for an assistant-role Message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
