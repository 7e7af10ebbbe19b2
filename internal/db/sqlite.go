package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/digimate-ai/digimate/internal/models"
	"github.com/digimate-ai/digimate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT 'New Chat',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_message TEXT,
    last_message_time DATETIME,
    unread_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    content TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);`

const chatColumns = `id, user_id, title, created_at, last_message, last_message_time, unread_count`

const messageColumns = `id, chat_id, content, role, timestamp`

var _ store.ConversationStore = (*Database)(nil)

// Database is the SQLite ConversationStore.
type Database struct {
	db  *sql.DB
	now func() time.Time
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// SQLite has a single writer; one connection keeps writers queued in
	// database/sql instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}

	return &Database{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var (
		chat     models.Chat
		lastMsg  sql.NullString
		lastTime sql.NullTime
	)
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &lastMsg, &lastTime, &chat.UnreadCount); err != nil {
		return nil, err
	}
	chat.CreatedAt = chat.CreatedAt.UTC()
	chat.LastMessage = lastMsg.String
	if lastTime.Valid {
		t := lastTime.Time.UTC()
		chat.LastMessageTime = &t
	}
	return &chat, nil
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.Role, &msg.Timestamp)
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, err
}

func getChat(ctx context.Context, q querier, chatID string) (*models.Chat, error) {
	chat, err := scanChat(q.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound("chat", chatID)
	}
	if err != nil {
		return nil, store.Unavailable(err, "query chat")
	}
	return chat, nil
}

func (db *Database) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	return getChat(ctx, db.db, chatID)
}

func (db *Database) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT `+chatColumns+`
        FROM chats
        WHERE user_id = ?
        ORDER BY COALESCE(last_message_time, created_at) DESC`, userID)
	if err != nil {
		return nil, store.Unavailable(err, "query chats")
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, store.Unavailable(err, "scan chat")
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(err, "iterate chats")
	}
	return chats, nil
}

func (db *Database) CreateChat(ctx context.Context, userID, title string) (*models.Chat, error) {
	if title == "" {
		title = models.DefaultChatTitle
	}
	chat := &models.Chat{
		ID:        shortuuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: db.now(),
	}
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO chats (id, user_id, title, created_at, unread_count)
        VALUES (?, ?, ?, ?, 0)`, chat.ID, chat.UserID, chat.Title, chat.CreatedAt)
	if err != nil {
		return nil, store.Unavailable(err, "insert chat")
	}
	return chat, nil
}

func (db *Database) UpdateChat(ctx context.Context, chatID string, patch models.ChatPatch) (*models.Chat, error) {
	set, args := []string{}, []any{}
	if v := patch.Title; v != nil {
		set, args = append(set, "title = ?"), append(args, *v)
	}
	if v := patch.UnreadCount; v != nil {
		set, args = append(set, "unread_count = ?"), append(args, *v)
	}
	if len(set) == 0 {
		return db.GetChat(ctx, chatID)
	}

	args = append(args, chatID)
	result, err := db.db.ExecContext(ctx, `UPDATE chats SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, store.Unavailable(err, "update chat")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.NotFound("chat", chatID)
	}
	return db.GetChat(ctx, chatID)
}

func (db *Database) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable(err, "begin delete chat")
	}
	defer tx.Rollback()

	// Delete messages
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return store.Unavailable(err, "delete messages")
	}

	// Delete chat
	result, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	if err != nil {
		return store.Unavailable(err, "delete chat")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.NotFound("chat", chatID)
	}

	return store.Unavailable(tx.Commit(), "commit delete chat")
}

func (db *Database) ListMessages(ctx context.Context, chatID string, limit, offset int) (*models.MessagePage, error) {
	limit, offset = store.Page(limit, offset)
	if _, err := db.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	var total int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&total); err != nil {
		return nil, store.Unavailable(err, "count messages")
	}

	msgs, err := db.queryMessages(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp ASC, rowid ASC
        LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}

	return &models.MessagePage{
		Messages: msgs,
		Count:    len(msgs),
		Total:    total,
		HasMore:  store.HasMore(limit, offset, total),
	}, nil
}

func (db *Database) RecentMessages(ctx context.Context, chatID string, n int) ([]models.Message, error) {
	if _, err := db.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = -1 // no limit
	}
	msgs, err := db.queryMessages(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp DESC, rowid DESC
        LIMIT ?`, chatID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (db *Database) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Unavailable(err, "query messages")
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, store.Unavailable(err, "scan message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(err, "iterate messages")
	}
	return messages, nil
}

// AppendMessage inserts the message and refreshes the chat summary in one
// transaction.
func (db *Database) AppendMessage(ctx context.Context, chatID, content string, role models.Role) (*models.Message, error) {
	if !role.Valid() {
		return nil, store.InvalidArgument("role %q", role)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Unavailable(err, "begin append message")
	}
	defer tx.Rollback()

	if _, err := getChat(ctx, tx, chatID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Content:   content,
		Role:      role,
		Timestamp: db.now(),
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO messages (id, chat_id, content, role, timestamp)
        VALUES (?, ?, ?, ?, ?)`, msg.ID, msg.ChatID, msg.Content, msg.Role, msg.Timestamp); err != nil {
		return nil, store.Unavailable(err, "insert message")
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE chats SET last_message = ?, last_message_time = ?
        WHERE id = ?`, store.Summarize(content), msg.Timestamp, chatID); err != nil {
		return nil, store.Unavailable(err, "update chat summary")
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Unavailable(err, "commit append message")
	}
	return msg, nil
}

func (db *Database) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable(err, "begin delete message")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID)
	if err != nil {
		return store.Unavailable(err, "delete message")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.NotFound("message", messageID)
	}

	last, err := scanMessage(tx.QueryRowContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp DESC, rowid DESC
        LIMIT 1`, chatID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `UPDATE chats SET last_message = NULL, last_message_time = NULL WHERE id = ?`, chatID)
	case err == nil:
		_, err = tx.ExecContext(ctx, `UPDATE chats SET last_message = ?, last_message_time = ? WHERE id = ?`,
			store.Summarize(last.Content), last.Timestamp, chatID)
	}
	if err != nil {
		return store.Unavailable(err, "update chat summary")
	}

	return store.Unavailable(tx.Commit(), "commit delete message")
}

func (db *Database) ClearMessages(ctx context.Context, chatID string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable(err, "begin clear messages")
	}
	defer tx.Rollback()

	if _, err := getChat(ctx, tx, chatID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return store.Unavailable(err, "delete messages")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET last_message = NULL, last_message_time = NULL WHERE id = ?`, chatID); err != nil {
		return store.Unavailable(err, "reset chat summary")
	}

	return store.Unavailable(tx.Commit(), "commit clear messages")
}

func (db *Database) SearchMessages(ctx context.Context, userID, query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = store.DefaultSearchLimit
	}
	// lower() and instr() avoid LIKE wildcard escaping for user input.
	rows, err := db.db.QueryContext(ctx, `
        SELECT m.id, m.chat_id, m.content, m.role, m.timestamp, c.title
        FROM messages m
        JOIN chats c ON m.chat_id = c.id
        WHERE c.user_id = ? AND instr(lower(m.content), lower(?)) > 0
        ORDER BY m.timestamp DESC, m.rowid DESC
        LIMIT ?`, userID, query, limit)
	if err != nil {
		return nil, store.Unavailable(err, "search messages")
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0)
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Content, &r.Role, &r.Timestamp, &r.ChatTitle); err != nil {
			return nil, store.Unavailable(err, "scan search result")
		}
		r.Timestamp = r.Timestamp.UTC()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable(err, "iterate search results")
	}
	return results, nil
}

func (db *Database) Ping(ctx context.Context) error {
	return store.Unavailable(db.db.PingContext(ctx), "ping")
}

func (db *Database) Close() error {
	return db.db.Close()
}
