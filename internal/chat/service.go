// Package chat runs one user→assistant exchange: persist the user's turn,
// ask the completion API for a reply, persist the reply.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/llm"
	"github.com/digimate-ai/digimate/internal/metrics"
	"github.com/digimate-ai/digimate/internal/models"
	"github.com/digimate-ai/digimate/internal/store"
)

const (
	DefaultContextWindow     = 10
	DefaultCompletionTimeout = 60 * time.Second

	errorReplyPrefix = "Sorry, I encountered an error: "
)

type Service struct {
	store         store.ConversationStore
	llm           llm.Completer
	logger        *zap.Logger
	contextWindow int
	timeout       time.Duration
}

type Option func(*Service)

// WithContextWindow sets how many recent messages are sent with each turn.
func WithContextWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.contextWindow = n
		}
	}
}

// WithCompletionTimeout bounds the single completion attempt.
func WithCompletionTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(st store.ConversationStore, completer llm.Completer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:         st,
		llm:           completer,
		logger:        logger,
		contextWindow: DefaultContextWindow,
		timeout:       DefaultCompletionTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SendMessage appends text as the user's turn and then an assistant turn,
// returning both. A completion failure becomes the assistant turn's content
// and is not returned as an error; only invalid input, an unknown chat and
// storage failures are.
func (s *Service) SendMessage(ctx context.Context, userID, chatID, text string) ([]models.Message, error) {
	if chatID == "" {
		return nil, store.InvalidArgument("chat ID is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, store.InvalidArgument("message is required")
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, store.NotFound("chat", chatID)
	}

	userMsg, err := s.store.AppendMessage(ctx, chatID, text, models.RoleUser)
	if err != nil {
		return nil, err
	}

	history, err := s.store.RecentMessages(ctx, chatID, s.contextWindow)
	if err != nil {
		return nil, err
	}

	reply := s.complete(ctx, chatID, history)

	// The user's turn is already stored, so the reply is written even if the
	// caller has gone away.
	assistantMsg, err := s.store.AppendMessage(context.WithoutCancel(ctx), chatID, reply, models.RoleAssistant)
	if err != nil {
		return nil, err
	}

	return []models.Message{*userMsg, *assistantMsg}, nil
}

// complete returns the reply text, or a readable explanation when the
// completion API fails.
func (s *Service) complete(ctx context.Context, chatID string, history []models.Message) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.llm.Complete(ctx, llm.Turns(history))
	elapsed := time.Since(start)
	metrics.CompletionDuration.Observe(elapsed.Seconds())

	if err != nil {
		cerr := llm.Classify(err)
		metrics.Completions.WithLabelValues(string(cerr.Kind)).Inc()
		s.logger.Warn("completion failed",
			zap.String("chatId", chatID),
			zap.String("kind", string(cerr.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return errorReplyPrefix + cerr.Message
	}

	metrics.Completions.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("completion succeeded",
		zap.String("chatId", chatID),
		zap.Int("contextMessages", len(history)),
		zap.Duration("elapsed", elapsed))
	return text
}
