package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DefaultChatTitle is used when a chat is created without a title.
const DefaultChatTitle = "New Chat"

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

type Chat struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Title           string     `json:"title"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastMessage     string     `json:"lastMessage,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
}

// ChatPatch carries the fields accepted by an update. Nil fields are left alone.
type ChatPatch struct {
	Title       *string
	UnreadCount *int
}

// MessagePage is one page of a chat's messages in display order.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// SearchResult is a message hit decorated with the title of its chat.
type SearchResult struct {
	Message
	ChatTitle string `json:"chatTitle"`
}
