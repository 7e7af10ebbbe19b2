package store

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digimate-ai/digimate/internal/models"
)

const summaryLength = 100

// Summarize shortens content for a chat's lastMessage field.
func Summarize(content string) string {
	if utf8.RuneCountInString(content) <= summaryLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:summaryLength]) + "..."
}

// SortChats orders chats newest activity first. A chat without messages
// is ranked by its creation time.
func SortChats(chats []models.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return activity(chats[i]).After(activity(chats[j]))
	})
}

func activity(c models.Chat) time.Time {
	if c.LastMessageTime != nil {
		return *c.LastMessageTime
	}
	return c.CreatedAt
}

// Page clamps pagination arguments to [1, MaxPageSize] and a non-negative
// offset.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// HasMore reports whether messages remain after the page at offset. It is
// offset+limit < total without the overflow.
func HasMore(limit, offset, total int) bool {
	return offset < total && limit < total-offset
}

// NewPage slices an ordered message list.
func NewPage(all []models.Message, limit, offset int) *models.MessagePage {
	limit, offset = Page(limit, offset)
	total := len(all)
	start := min(offset, total)
	end := start + min(limit, total-start)
	msgs := make([]models.Message, end-start)
	copy(msgs, all[start:end])
	return &models.MessagePage{
		Messages: msgs,
		Count:    len(msgs),
		Total:    total,
		HasMore:  HasMore(limit, offset, total),
	}
}

// Matches reports whether content contains query, ignoring case.
func Matches(content, query string) bool {
	return strings.Contains(strings.ToLower(content), strings.ToLower(query))
}
