package llm

import (
	"context"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotConfigured   = errors.New("completion service is not configured")
	ErrBlocked         = errors.New("completion blocked by safety filters")
	ErrEmptyCompletion = errors.New("completion returned no content")
)

// Kind is the class of a completion failure.
type Kind string

const (
	KindNotConfigured     Kind = "not_configured"
	KindInvalidCredential Kind = "invalid_credential"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindSafetyBlocked     Kind = "safety_blocked"
	KindUnknown           Kind = "unknown"
)

const maxDetail = 200

// CompletionError is a classified completion failure. Message is safe to
// show to the user.
type CompletionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CompletionError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

func newCompletionError(kind Kind, err error) *CompletionError {
	var msg string
	switch kind {
	case KindNotConfigured:
		msg = "AI service not configured. Please check environment variables."
	case KindInvalidCredential:
		msg = "Invalid API key. Please check your API key."
	case KindQuotaExceeded:
		msg = "API quota exceeded. Please check your API usage."
	case KindSafetyBlocked:
		msg = "Content blocked by safety filters. Please rephrase your message."
	default:
		msg = "AI service error: " + detail(err)
	}
	return &CompletionError{Kind: kind, Message: msg, Err: err}
}

// Classify maps a completion error onto a Kind. Structured errors from the
// provider SDKs are preferred; the error text is only inspected when nothing
// structured is available.
func Classify(err error) *CompletionError {
	if err == nil {
		return nil
	}
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, ErrNotConfigured):
		return newCompletionError(KindNotConfigured, err)
	case errors.Is(err, ErrBlocked):
		return newCompletionError(KindSafetyBlocked, err)
	case isTimeout(err):
		return &CompletionError{Kind: KindUnknown, Message: "AI service error: the request timed out", Err: err}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return newCompletionError(KindInvalidCredential, err)
		case codes.ResourceExhausted:
			return newCompletionError(KindQuotaExceeded, err)
		case codes.DeadlineExceeded:
			return &CompletionError{Kind: KindUnknown, Message: "AI service error: the request timed out", Err: err}
		}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newCompletionError(KindInvalidCredential, err)
		case http.StatusTooManyRequests:
			return newCompletionError(KindQuotaExceeded, err)
		}
	}

	return newCompletionError(classifyText(err.Error()), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

var textRules = []struct {
	kind    Kind
	needles []string
}{
	{KindSafetyBlocked, []string{"safety", "blocked", "content_filter", "content management policy"}},
	{KindQuotaExceeded, []string{"quota", "429", "rate limit", "resource_exhausted", "resource exhausted"}},
	{KindInvalidCredential, []string{"api_key", "api key", "401", "unauthorized", "permission denied"}},
}

func classifyText(text string) Kind {
	text = strings.ToLower(text)
	for _, rule := range textRules {
		for _, needle := range rule.needles {
			if strings.Contains(text, needle) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// detail keeps the first line of an error, capped, so provider bodies and
// traces never reach the chat.
func detail(err error) string {
	if err == nil || errors.Is(err, ErrEmptyCompletion) {
		return "the model returned an empty response"
	}
	line, _, _ := strings.Cut(err.Error(), "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > maxDetail {
		line = string([]rune(line)[:maxDetail]) + "..."
	}
	if line == "" {
		return "Unknown error occurred"
	}
	return line
}
