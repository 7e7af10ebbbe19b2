// Package store defines the conversation storage contract shared by the
// SQLite and key-value backends.
package store

import (
	"context"

	"github.com/digimate-ai/digimate/internal/models"
)

const (
	DefaultPageSize    = 50
	MaxPageSize        = 500
	DefaultSearchLimit = 20
)

// ConversationStore is durable CRUD for chats and their messages.
//
// Every method that takes a chatID fails with ErrNotFound when the chat does
// not exist. Backend I/O failures satisfy errors.Is(err, ErrUnavailable).
type ConversationStore interface {
	// ListChats returns all chats owned by userID in no particular order.
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	CreateChat(ctx context.Context, userID, title string) (*models.Chat, error)
	UpdateChat(ctx context.Context, chatID string, patch models.ChatPatch) (*models.Chat, error)
	// DeleteChat removes the chat and every message in it.
	DeleteChat(ctx context.Context, chatID string) error

	// ListMessages returns messages in ascending timestamp order.
	ListMessages(ctx context.Context, chatID string, limit, offset int) (*models.MessagePage, error)
	// RecentMessages returns the last n messages, oldest first. n <= 0
	// returns every message.
	RecentMessages(ctx context.Context, chatID string, n int) ([]models.Message, error)
	// AppendMessage stores a new message and refreshes the chat summary.
	AppendMessage(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	// ClearMessages removes every message and resets the chat summary.
	ClearMessages(ctx context.Context, chatID string) error
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.SearchResult, error)

	Ping(ctx context.Context) error
	Close() error
}
