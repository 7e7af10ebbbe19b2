package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/digimate-ai/digimate/internal/models"
	"github.com/digimate-ai/digimate/internal/store"
)

func newTestStore(t *testing.T, client Client) *Store {
	t.Helper()
	s := NewStore(client, zaptest.NewLogger(t))
	var mu sync.Mutex
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

// flakyClient fails HSet on one key once armed.
type flakyClient struct {
	*Memory
	mu      sync.Mutex
	failKey string
}

func (c *flakyClient) HSet(key, field string, value []byte) error {
	c.mu.Lock()
	fail := c.failKey == key
	c.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return c.Memory.HSet(key, field, value)
}

func (c *flakyClient) arm(key string) {
	c.mu.Lock()
	c.failKey = key
	c.mu.Unlock()
}

// gatedClient holds the first owner lookup, after it has read the value,
// until release is closed.
type gatedClient struct {
	*Memory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (c *gatedClient) HGet(key, field string) ([]byte, error) {
	v, err := c.Memory.HGet(key, field)
	if key == ownersKey && c.armed.CompareAndSwap(true, false) {
		close(c.entered)
		<-c.release
	}
	return v, err
}

func TestChatLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultChatTitle, chat.Title)

	got, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	title := "Renamed"
	updated, err := s.UpdateChat(ctx, chat.ID, models.ChatPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	chats, err := s.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Renamed", chats[0].Title)

	_, err = s.UpdateChat(ctx, "missing", models.ChatPatch{Title: &title})
	assert.ErrorIs(t, err, store.ErrNotFound)

	empty, err := s.ListChats(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAppendAndPaginate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)
	var last *models.Message
	for _, content := range []string{"one", "two", "three"} {
		last, err = s.AppendMessage(ctx, chat.ID, content, models.RoleUser)
		require.NoError(t, err)
	}

	page, err := s.ListMessages(ctx, chat.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.True(t, page.HasMore)

	page, err = s.ListMessages(ctx, chat.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, last.ID, page.Messages[0].ID)
	assert.False(t, page.HasMore)
	assert.Equal(t, 3, page.Total)

	got, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "three", got.LastMessage)
	require.NotNil(t, got.LastMessageTime)
	assert.True(t, last.Timestamp.Equal(*got.LastMessageTime))

	_, err = s.AppendMessage(ctx, "missing", "x", models.RoleUser)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.AppendMessage(ctx, chat.ID, "x", models.Role("tool"))
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestRecentMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := s.AppendMessage(ctx, chat.ID, string(rune('a'+i)), models.RoleUser)
		require.NoError(t, err)
	}

	recent, err := s.RecentMessages(ctx, chat.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Content)
	assert.Equal(t, "d", recent[1].Content)

	for _, n := range []int{0, -1} {
		all, err := s.RecentMessages(ctx, chat.ID, n)
		require.NoError(t, err)
		require.Len(t, all, 4, n)
		assert.Equal(t, "a", all[0].Content)
	}
}

func TestDeleteChatCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, chat.ID, "hello", models.RoleUser)
	require.NoError(t, err)

	require.NoError(t, s.DeleteChat(ctx, chat.ID))

	_, err = s.ListMessages(ctx, chat.ID, 50, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.client.HGet(messagesKey, chat.ID)
	assert.ErrorIs(t, err, ErrMissing)
	assert.ErrorIs(t, s.DeleteChat(ctx, chat.ID), store.ErrNotFound)
}

func TestDeleteAndClearMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, chat.ID, "first", models.RoleUser)
	require.NoError(t, err)
	second, err := s.AppendMessage(ctx, chat.ID, "second", models.RoleAssistant)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMessage(ctx, chat.ID, second.ID))
	got, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.LastMessage)
	assert.ErrorIs(t, s.DeleteMessage(ctx, chat.ID, second.ID), store.ErrNotFound)

	require.NoError(t, s.ClearMessages(ctx, chat.ID))
	page, err := s.ListMessages(ctx, chat.ID, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	got, err = s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastMessage)
	assert.Nil(t, got.LastMessageTime)
}

func TestSearchMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	mine, err := s.CreateChat(ctx, "u1", "Mine")
	require.NoError(t, err)
	theirs, err := s.CreateChat(ctx, "u2", "Theirs")
	require.NoError(t, err)
	for _, content := range []string{"Hello mentor", "unrelated", "say HELLO again"} {
		_, err := s.AppendMessage(ctx, mine.ID, content, models.RoleUser)
		require.NoError(t, err)
	}
	_, err = s.AppendMessage(ctx, theirs.ID, "hello from u2", models.RoleUser)
	require.NoError(t, err)

	results, err := s.SearchMessages(ctx, "u1", "hello", 20)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "say HELLO again", results[0].Content)
	assert.Equal(t, "Mine", results[0].ChatTitle)

	capped, err := s.SearchMessages(ctx, "u1", "hello", 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func TestSummaryFailureKeepsMessage(t *testing.T) {
	ctx := context.Background()
	client := &flakyClient{Memory: NewMemory()}
	s := newTestStore(t, client)

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)

	client.arm(chatsKey)
	msg, err := s.AppendMessage(ctx, chat.ID, "survives", models.RoleUser)
	require.NoError(t, err)

	page, err := s.ListMessages(ctx, chat.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msg.ID, page.Messages[0].ID)

	got, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastMessage)
}

func TestMessageWriteFailureIsUnavailable(t *testing.T) {
	ctx := context.Background()
	client := &flakyClient{Memory: NewMemory()}
	s := newTestStore(t, client)

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)

	client.arm(messagesKey)
	_, err = s.AppendMessage(ctx, chat.ID, "lost", models.RoleUser)
	assert.ErrorIs(t, err, store.ErrUnavailable)

	got, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastMessage)
}

func TestConcurrentCreateKeepsEveryChat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateChat(ctx, "u1", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chats, err := s.ListChats(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, chats, 20)
}

func TestDeleteDuringAppendLeavesNoMessages(t *testing.T) {
	ctx := context.Background()
	client := &gatedClient{
		Memory:  NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestStore(t, client)

	chat, err := s.CreateChat(ctx, "u1", "")
	require.NoError(t, err)

	client.armed.Store(true)
	appendErr := make(chan error, 1)
	go func() {
		_, err := s.AppendMessage(ctx, chat.ID, "late", models.RoleUser)
		appendErr <- err
	}()
	<-client.entered

	deleteErr := make(chan error, 1)
	go func() { deleteErr <- s.DeleteChat(ctx, chat.ID) }()
	// Give the delete time to run as far as it can while the append has
	// resolved the owner but not yet written.
	time.Sleep(50 * time.Millisecond)
	close(client.release)

	require.NoError(t, <-deleteErr)
	if err := <-appendErr; err != nil {
		assert.ErrorIs(t, err, store.ErrNotFound)
	}

	_, err = client.Memory.HGet(messagesKey, chat.ID)
	assert.ErrorIs(t, err, ErrMissing)
	_, err = s.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
