package models

import "time"

// TempAudio represents an uploaded voice clip kept on disk only long enough
// to be transcribed.
type TempAudio struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	FileName       string    `json:"file_name"`
	StoredPath     string    `json:"stored_path"`
	MimeType       string    `json:"mime_type"`
	Size           int64     `json:"size"`
	LanguageHint   string    `json:"language_hint"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}
