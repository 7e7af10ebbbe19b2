package kv

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/models"
	"github.com/digimate-ai/digimate/internal/store"
)

const (
	chatsKey    = "user_chats"
	messagesKey = "chat_messages"
	ownersKey   = "chat_owner"
)

var _ store.ConversationStore = (*Store)(nil)

// Store is a ConversationStore over a Client. Hash values are JSON lists,
// so every write is a read-modify-write of the whole list. Writes to one
// list are serialized by a per-key mutex held in this process only.
type Store struct {
	client Client
	logger *zap.Logger
	now    func() time.Time
	locks  sync.Map
}

func NewStore(client Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) lock(key string) func() {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// lockChat takes the chat's message lock and then resolves its owner, so a
// chat seen here cannot be deleted until unlock is called. Locks are always
// taken chat first, user second.
func (s *Store) lockChat(chatID string) (unlock func(), userID string, err error) {
	unlock = s.lock("chat:" + chatID)
	userID, err = s.owner(chatID)
	if err != nil {
		unlock()
		return nil, "", err
	}
	return unlock, userID, nil
}

func (s *Store) load(key, field string, into any) error {
	raw, err := s.client.HGet(key, field)
	if errors.Is(err, ErrMissing) {
		return nil
	}
	if err != nil {
		return store.Unavailable(err, "hget "+key)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return store.Unavailable(err, "decode "+key)
	}
	return nil
}

func (s *Store) save(key, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return store.Unavailable(err, "encode "+key)
	}
	return store.Unavailable(s.client.HSet(key, field, raw), "hset "+key)
}

func (s *Store) loadChats(userID string) ([]models.Chat, error) {
	var chats []models.Chat
	if err := s.load(chatsKey, userID, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *Store) loadMessages(chatID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.load(messagesKey, chatID, &msgs); err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

func (s *Store) owner(chatID string) (string, error) {
	raw, err := s.client.HGet(ownersKey, chatID)
	if errors.Is(err, ErrMissing) {
		return "", store.NotFound("chat", chatID)
	}
	if err != nil {
		return "", store.Unavailable(err, "hget "+ownersKey)
	}
	return string(raw), nil
}

// updateChat applies fn to the chat under its owner's list lock.
func (s *Store) updateChat(chatID string, fn func(*models.Chat)) (*models.Chat, error) {
	userID, err := s.owner(chatID)
	if err != nil {
		return nil, err
	}
	unlock := s.lock("user:" + userID)
	defer unlock()

	chats, err := s.loadChats(userID)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		if chats[i].ID != chatID {
			continue
		}
		fn(&chats[i])
		if err := s.save(chatsKey, userID, chats); err != nil {
			return nil, err
		}
		updated := chats[i]
		return &updated, nil
	}
	return nil, store.NotFound("chat", chatID)
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	chats, err := s.loadChats(userID)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = make([]models.Chat, 0)
	}
	return chats, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	userID, err := s.owner(chatID)
	if err != nil {
		return nil, err
	}
	chats, err := s.loadChats(userID)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		if c.ID == chatID {
			return &c, nil
		}
	}
	return nil, store.NotFound("chat", chatID)
}

func (s *Store) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if title == "" {
		title = models.DefaultChatTitle
	}
	chat := models.Chat{
		ID:        shortuuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: s.now(),
	}

	unlock := s.lock("user:" + userID)
	defer unlock()

	chats, err := s.loadChats(userID)
	if err != nil {
		return nil, err
	}
	// The owner index goes first so a chat in a list can always be resolved.
	if err := s.client.HSet(ownersKey, chat.ID, []byte(userID)); err != nil {
		return nil, store.Unavailable(err, "hset "+ownersKey)
	}
	if err := s.save(chatsKey, userID, append([]models.Chat{chat}, chats...)); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *Store) UpdateChat(ctx context.Context, chatID string, patch models.ChatPatch) (*models.Chat, error) {
	return s.updateChat(chatID, func(c *models.Chat) {
		if patch.Title != nil {
			c.Title = *patch.Title
		}
		if patch.UnreadCount != nil {
			c.UnreadCount = *patch.UnreadCount
		}
	})
}

// DeleteChat removes messages before the chat itself, so a failure part way
// leaves an empty chat rather than orphaned messages. The chat lock is held
// throughout, so no append can land between the steps.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	unlockChat, userID, err := s.lockChat(chatID)
	if err != nil {
		return err
	}
	defer unlockChat()

	if err := s.client.HDel(messagesKey, chatID); err != nil {
		return store.Unavailable(err, "hdel "+messagesKey)
	}

	if err := s.removeChat(userID, chatID); err != nil {
		return err
	}
	return store.Unavailable(s.client.HDel(ownersKey, chatID), "hdel "+ownersKey)
}

func (s *Store) removeChat(userID, chatID string) error {
	unlock := s.lock("user:" + userID)
	defer unlock()

	chats, err := s.loadChats(userID)
	if err != nil {
		return err
	}
	kept := make([]models.Chat, 0, len(chats))
	for _, c := range chats {
		if c.ID != chatID {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(chats) {
		return store.NotFound("chat", chatID)
	}
	return s.save(chatsKey, userID, kept)
}

func (s *Store) ListMessages(ctx context.Context, chatID string, limit, offset int) (*models.MessagePage, error) {
	if _, err := s.owner(chatID); err != nil {
		return nil, err
	}
	msgs, err := s.loadMessages(chatID)
	if err != nil {
		return nil, err
	}
	return store.NewPage(msgs, limit, offset), nil
}

func (s *Store) RecentMessages(ctx context.Context, chatID string, n int) ([]models.Message, error) {
	if _, err := s.owner(chatID); err != nil {
		return nil, err
	}
	msgs, err := s.loadMessages(chatID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// AppendMessage writes the message list first and the chat summary second.
// A failed summary write is logged; the message is already durable.
func (s *Store) AppendMessage(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error) {
	if !role.Valid() {
		return nil, store.InvalidArgument("role %q", role)
	}

	unlock, _, err := s.lockChat(chatID)
	if err != nil {
		return nil, err
	}
	msg := models.Message{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Content: content,
		Role:    role,
	}
	msgs, err := s.loadMessages(chatID)
	if err == nil {
		msg.Timestamp = s.now()
		err = s.save(messagesKey, chatID, append(msgs, msg))
	}
	unlock()
	if err != nil {
		return nil, err
	}

	s.setSummary(chatID, &msg)
	return &msg, nil
}

// setSummary points the chat summary at last, or clears it when last is nil.
func (s *Store) setSummary(chatID string, last *models.Message) {
	_, err := s.updateChat(chatID, func(c *models.Chat) {
		if last == nil {
			c.LastMessage = ""
			c.LastMessageTime = nil
			return
		}
		ts := last.Timestamp
		c.LastMessage = store.Summarize(last.Content)
		c.LastMessageTime = &ts
	})
	if err != nil {
		s.logger.Warn("failed to update chat summary",
			zap.String("chatId", chatID),
			zap.Error(err))
	}
}

func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	unlock, _, err := s.lockChat(chatID)
	if err != nil {
		return err
	}
	msgs, err := s.loadMessages(chatID)
	if err != nil {
		unlock()
		return err
	}
	kept := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(msgs) {
		unlock()
		return store.NotFound("message", messageID)
	}
	err = s.save(messagesKey, chatID, kept)
	unlock()
	if err != nil {
		return err
	}

	var last *models.Message
	if len(kept) > 0 {
		last = &kept[len(kept)-1]
	}
	s.setSummary(chatID, last)
	return nil
}

func (s *Store) ClearMessages(ctx context.Context, chatID string) error {
	unlock, _, err := s.lockChat(chatID)
	if err != nil {
		return err
	}
	err = s.save(messagesKey, chatID, []models.Message{})
	unlock()
	if err != nil {
		return err
	}

	s.setSummary(chatID, nil)
	return nil
}

func (s *Store) SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	chats, err := s.loadChats(userID)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0)
	for _, c := range chats {
		msgs, err := s.loadMessages(c.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if store.Matches(m.Content, query) {
				results = append(results, models.SearchResult{Message: m, ChatTitle: c.Title})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Unavailable(s.client.Ping(), "ping")
}

func (s *Store) Close() error {
	return s.client.Close()
}
