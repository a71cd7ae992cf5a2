package models

import "time"

// Reminder is a pending time-delayed notification. It fires at most once:
// the scheduler removes it atomically when it becomes due.
type Reminder struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Message        string    `json:"message"`
	FireAt         time.Time `json:"fire_at"`
	CreatedAt      time.Time `json:"created_at"`
}
