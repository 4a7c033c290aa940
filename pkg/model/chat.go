package model

import "time"

type MessageKind string

const (
	KindText       MessageKind = "text"
	KindReaction   MessageKind = "reaction"
	KindContextRef MessageKind = "context_ref"
)

// MaxChatContentLen caps chat message content. Longer input is truncated,
// not rejected.
const MaxChatContentLen = 500

// ChatMessage is one entry in a workspace's session-lifetime chat log. The
// server assigns ID and Timestamp; clients never append locally and instead
// wait for the broadcast echo.
type ChatMessage struct {
	ID          int64       `json:"id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	SenderColor string      `json:"sender_color"`
	SenderRole  Role        `json:"sender_role"`
	Kind        MessageKind `json:"kind"`
	Content     string      `json:"content"`
	Reactions   []string    `json:"reactions,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	IsPromoted  bool        `json:"is_promoted"`
}

// TruncateContent enforces MaxChatContentLen without splitting a UTF-8
// sequence mid-rune.
func TruncateContent(content string) string {
	if len(content) <= MaxChatContentLen {
		return content
	}
	cut := 0
	for i := range content {
		if i > MaxChatContentLen {
			break
		}
		cut = i
	}
	return content[:cut]
}
