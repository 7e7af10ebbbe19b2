package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"

	"github.com/digimate-ai/digimate/internal/models"
)

type fakeModel struct {
	got  []llms.MessageContent
	resp *llms.ContentResponse
	err  error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.got = messages
	return m.resp, m.err
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func reply(text, stop string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, StopReason: stop}}}
}

func TestTurns(t *testing.T) {
	turns := Turns([]models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "plan my week"},
	})
	require.Len(t, turns, 3)
	assert.Equal(t, llms.ChatMessageTypeHuman, turns[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, turns[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, turns[2].Role)
	assert.Equal(t, llms.TextContent{Text: "plan my week"}, turns[2].Parts[0])
}

func TestCompleteReturnsText(t *testing.T) {
	model := &fakeModel{resp: reply("Here is your plan", "stop")}
	client := NewFromModel(model, zaptest.NewLogger(t))

	turns := Turns([]models.Message{{Role: models.RoleUser, Content: "plan"}})
	got, err := client.Complete(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, "Here is your plan", got)
	assert.Equal(t, turns, model.got)
}

func TestCompleteErrors(t *testing.T) {
	turns := Turns([]models.Message{{Role: models.RoleUser, Content: "plan"}})
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	for _, stop := range []string{"FinishReasonSafety", "content_filter"} {
		_, err := NewFromModel(&fakeModel{resp: reply("partial", stop)}, logger).Complete(ctx, turns)
		assert.ErrorIs(t, err, ErrBlocked, stop)
	}

	got, err := NewFromModel(&fakeModel{resp: reply("done", "FinishReasonStop")}, logger).Complete(ctx, turns)
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	_, err = NewFromModel(&fakeModel{resp: reply("  ", "stop")}, logger).Complete(ctx, turns)
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	_, err = NewFromModel(&fakeModel{resp: &llms.ContentResponse{}}, logger).Complete(ctx, turns)
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	cause := errors.New("upstream down")
	_, err = NewFromModel(&fakeModel{err: cause}, logger).Complete(ctx, turns)
	assert.ErrorIs(t, err, cause)

	_, err = NewFromModel(&fakeModel{}, logger).Complete(ctx, nil)
	assert.Error(t, err)
}

func TestNewWithoutKeyIsNotConfigured(t *testing.T) {
	client, err := New(context.Background(), Settings{Provider: ProviderGoogleAI}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Turns([]models.Message{{Role: models.RoleUser, Content: "hi"}}))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, KindNotConfigured, Classify(err).Kind)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Settings{Provider: "carrier-pigeon", APIKey: "k"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestDefaultModel(t *testing.T) {
	assert.Equal(t, "gemini-1.5-flash", DefaultModel(ProviderGoogleAI))
	assert.Equal(t, "llama3.1:8b", DefaultModel(ProviderOpenAI))
}
