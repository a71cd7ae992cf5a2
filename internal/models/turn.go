package models

import "time"

// Turn is one atomic entry in a conversation transcript. Turns are never
// mutated after they are appended to a session.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// LangAuto marks a turn whose language was neither declared nor detected.
const LangAuto = "auto"

type Turn struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Language       string    `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
}
