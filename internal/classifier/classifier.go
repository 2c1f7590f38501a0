package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Classifier returns the raw model answer for a chat message.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

var (
	ErrRetriesExhausted = errors.New("classification retries exhausted")
	ErrNoChoices        = errors.New("response has no choices")
	ErrEmptyText        = errors.New("response text is empty")
)

// TransportError is a network-level failure. It is the only retryable kind.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError covers rejected requests and malformed answers.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api error: %v", e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ParseError reports required fields absent from a model answer.
type ParseError struct {
	Raw     string
	Missing []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("missing fields %s in response %q", strings.Join(e.Missing, ", "), e.Raw)
}
