package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/chat"
	"github.com/digimate-ai/digimate/internal/models"
	"github.com/digimate-ai/digimate/internal/store"
)

// DefaultUserID is used when a request does not name a user.
const DefaultUserID = "default_user"

const (
	actionCreateChat  = "create_chat"
	actionSendMessage = "send_message"
)

type Handler struct {
	store  store.ConversationStore
	chat   *chat.Service
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(st store.ConversationStore, svc *chat.Service, logger *zap.Logger) *Handler {
	return &Handler{
		store:  st,
		chat:   svc,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts the chat and message routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/chats", h.listChats)
	e.POST("/chats", h.postChat)
	e.PUT("/chats", h.updateChat)
	e.DELETE("/chats", h.deleteChat)

	e.GET("/messages", h.listMessages)
	e.POST("/messages", h.appendMessage)
	e.PUT("/messages", h.searchMessages)
	e.DELETE("/messages", h.deleteMessages)

	e.GET("/healthz", h.health)
}

type postChatRequest struct {
	Action  string `json:"action"`
	UserID  string `json:"userId"`
	ChatID  string `json:"chatId"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type updateChatRequest struct {
	UserID      string  `json:"userId"`
	ChatID      string  `json:"chatId"`
	Title       *string `json:"title"`
	UnreadCount *int    `json:"unreadCount"`
}

type appendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	Role    string `json:"role"`
}

type searchRequest struct {
	UserID string `json:"userId"`
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
}

func userOrDefault(userID string) string {
	if userID == "" {
		return DefaultUserID
	}
	return userID
}

func (h *Handler) query(c *echo.Context, name string) string {
	return c.Request().URL.Query().Get(name)
}

// checkOwner resolves chatID and, when userID is set, requires that user
// to own it. A chat owned by someone else is reported as not found.
func (h *Handler) checkOwner(c *echo.Context, chatID, userID string) error {
	found, err := h.store.GetChat(c.Request().Context(), chatID)
	if err != nil {
		return err
	}
	if userID != "" && found.UserID != userID {
		return store.NotFound("chat", chatID)
	}
	return nil
}

func (h *Handler) listChats(c *echo.Context) error {
	userID := userOrDefault(h.query(c, "userId"))

	chats, err := h.store.ListChats(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, "Failed to fetch chats", err)
	}
	store.SortChats(chats)

	return h.respond(c, http.StatusOK, Response{
		Success: true,
		Data:    chats,
		Count:   intPtr(len(chats)),
	})
}

func (h *Handler) postChat(c *echo.Context) error {
	var req postChatRequest
	if err := c.Bind(&req); err != nil {
		return h.invalid(c, "Invalid request body")
	}
	userID := userOrDefault(req.UserID)

	switch req.Action {
	case actionCreateChat:
		created, err := h.store.CreateChat(c.Request().Context(), userID, req.Title)
		if err != nil {
			return h.fail(c, "Failed to create chat", err)
		}
		h.logger.Info("chat created",
			zap.String("chatId", created.ID),
			zap.String("userId", userID))
		return h.ok(c, http.StatusCreated, created, "Chat created successfully")

	case actionSendMessage:
		if req.ChatID == "" || strings.TrimSpace(req.Message) == "" {
			return h.invalid(c, "Chat ID and message are required")
		}
		msgs, err := h.chat.SendMessage(c.Request().Context(), userID, req.ChatID, req.Message)
		if err != nil {
			return h.fail(c, "Failed to send message", err)
		}
		return h.ok(c, http.StatusOK, msgs, "Message sent successfully")

	default:
		return h.invalid(c, `Invalid action. Expected "create_chat" or "send_message"`)
	}
}

func (h *Handler) updateChat(c *echo.Context) error {
	var req updateChatRequest
	if err := c.Bind(&req); err != nil {
		return h.invalid(c, "Invalid request body")
	}
	if req.ChatID == "" {
		return h.invalid(c, "Chat ID is required")
	}
	if req.UnreadCount != nil && *req.UnreadCount < 0 {
		return h.invalid(c, "unreadCount must not be negative")
	}

	ctx := c.Request().Context()
	if err := h.checkOwner(c, req.ChatID, req.UserID); err != nil {
		return h.fail(c, "Failed to update chat", err)
	}
	patch := models.ChatPatch{UnreadCount: req.UnreadCount}
	if req.Title != nil && *req.Title != "" {
		patch.Title = req.Title
	}
	updated, err := h.store.UpdateChat(ctx, req.ChatID, patch)
	if err != nil {
		return h.fail(c, "Failed to update chat", err)
	}
	return h.ok(c, http.StatusOK, updated, "Chat updated successfully")
}

func (h *Handler) deleteChat(c *echo.Context) error {
	chatID := h.query(c, "chatId")
	if chatID == "" {
		return h.invalid(c, "Chat ID is required")
	}
	if err := h.checkOwner(c, chatID, h.query(c, "userId")); err != nil {
		return h.fail(c, "Failed to delete chat", err)
	}
	if err := h.store.DeleteChat(c.Request().Context(), chatID); err != nil {
		return h.fail(c, "Failed to delete chat", err)
	}
	h.logger.Info("chat deleted", zap.String("chatId", chatID))
	return h.ok(c, http.StatusOK, nil, "Chat deleted successfully")
}

// atoi parses an optional numeric query value; anything unparsable is 0,
// which the store treats as "use the default".
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) listMessages(c *echo.Context) error {
	chatID := h.query(c, "chatId")
	if chatID == "" {
		return h.invalid(c, "Chat ID is required")
	}

	page, err := h.store.ListMessages(c.Request().Context(), chatID,
		atoi(h.query(c, "limit")), atoi(h.query(c, "offset")))
	if err != nil {
		return h.fail(c, "Failed to fetch messages", err)
	}
	return h.respond(c, http.StatusOK, Response{
		Success: true,
		Data:    page.Messages,
		Count:   intPtr(page.Count),
		Total:   intPtr(page.Total),
		HasMore: boolPtr(page.HasMore),
	})
}

func (h *Handler) appendMessage(c *echo.Context) error {
	var req appendMessageRequest
	if err := c.Bind(&req); err != nil {
		return h.invalid(c, "Invalid request body")
	}
	if req.ChatID == "" || req.Content == "" {
		return h.invalid(c, "Chat ID and content are required")
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RoleUser
	}

	msg, err := h.store.AppendMessage(c.Request().Context(), req.ChatID, req.Content, role)
	if err != nil {
		return h.fail(c, "Failed to add message", err)
	}
	return h.ok(c, http.StatusCreated, msg, "Message added successfully")
}

func (h *Handler) deleteMessages(c *echo.Context) error {
	chatID := h.query(c, "chatId")
	if chatID == "" {
		return h.invalid(c, "Chat ID is required")
	}
	ctx := c.Request().Context()

	if messageID := h.query(c, "messageId"); messageID != "" {
		if err := h.store.DeleteMessage(ctx, chatID, messageID); err != nil {
			return h.fail(c, "Failed to delete message", err)
		}
		return h.ok(c, http.StatusOK, nil, "Message deleted successfully")
	}

	if err := h.store.ClearMessages(ctx, chatID); err != nil {
		return h.fail(c, "Failed to clear messages", err)
	}
	return h.ok(c, http.StatusOK, nil, "Messages cleared successfully")
}

func (h *Handler) searchMessages(c *echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return h.invalid(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return h.invalid(c, "Search query is required")
	}

	results, err := h.store.SearchMessages(c.Request().Context(), userOrDefault(req.UserID), req.Query, req.Limit)
	if err != nil {
		return h.fail(c, "Failed to search messages", err)
	}
	return h.respond(c, http.StatusOK, Response{
		Success: true,
		Data:    results,
		Count:   intPtr(len(results)),
	})
}

func (h *Handler) health(c *echo.Context) error {
	if err := h.store.Ping(c.Request().Context()); err != nil {
		return h.fail(c, "Storage unavailable", err)
	}
	return h.ok(c, http.StatusOK, nil, "ok")
}
