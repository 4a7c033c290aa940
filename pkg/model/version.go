package model

import "time"

// SchemaVersion is one saved snapshot of a workspace's document. The core
// only emits save intents; durable storage happens downstream.
type SchemaVersion struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Note      string    `json:"note,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
