package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint       = "https://ncmb.neurochain.io/tasks/message"
	DefaultModel          = "Mistral-7B-Instruct-v0.2-GPTQ"
	DefaultMaxAttempts    = 3
	DefaultBaseBackoff    = time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

const promptTemplate = `[INST] You are sentiment analytic. respond in format ` +
	`SENTIMENT: sentiment, JUSTIFICATION: basis on which the sentiment was derived, ` +
	`EMOTIONS: emotions, URGENCY: level of urgency [/INST] Analyze this message: %s`

// Params are the fixed sampling parameters sent with every request.
type Params struct {
	Model            string
	MaxTokens        int
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

func DefaultParams() Params {
	return Params{
		Model:            DefaultModel,
		MaxTokens:        1024,
		Temperature:      0.6,
		TopP:             0.95,
		FrequencyPenalty: 0,
		PresencePenalty:  1.1,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Option func(*CompletionClient)

func WithParams(p Params) Option {
	return func(c *CompletionClient) { c.params = p }
}

func WithMaxAttempts(n int) Option {
	return func(c *CompletionClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBaseBackoff(d time.Duration) Option {
	return func(c *CompletionClient) { c.baseBackoff = d }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *CompletionClient) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(c *CompletionClient) { c.sleep = s }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *CompletionClient) { c.httpClient = hc }
}

type attemptOutcome int

const (
	attemptSuccess attemptOutcome = iota
	attemptTerminal
	attemptRetryable
)

// CompletionClient calls a text-completion endpoint speaking the OpenAI
// completions wire format.
type CompletionClient struct {
	client         *openai.Client
	httpClient     *http.Client
	params         Params
	maxAttempts    int
	baseBackoff    time.Duration
	attemptTimeout time.Duration
	sleep          Sleeper
	logger         *zap.Logger
}

func NewCompletionClient(apiKey, endpoint string, logger *zap.Logger, opts ...Option) (*CompletionClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	target, err := url.Parse(endpoint)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid classification endpoint %q", endpoint)
	}

	c := &CompletionClient{
		httpClient:     &http.Client{},
		params:         DefaultParams(),
		maxAttempts:    DefaultMaxAttempts,
		baseBackoff:    DefaultBaseBackoff,
		attemptTimeout: DefaultAttemptTimeout,
		sleep:          sleepContext,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = endpoint
	config.HTTPClient = &endpointDoer{
		endpoint: target,
		client:   c.httpClient,
		sampling: map[string]any{
			"max_tokens":        c.params.MaxTokens,
			"temperature":       c.params.Temperature,
			"top_p":             c.params.TopP,
			"frequency_penalty": c.params.FrequencyPenalty,
			"presence_penalty":  c.params.PresencePenalty,
		},
	}
	c.client = openai.NewClientWithConfig(config)

	return c, nil
}

// Classify sends one completion request for text, retrying transport
// failures with exponential backoff.
func (c *CompletionClient) Classify(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(promptTemplate, text)

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		raw, outcome, err := c.attempt(ctx, prompt)
		switch outcome {
		case attemptSuccess:
			return raw, nil
		case attemptTerminal:
			return "", err
		}

		lastErr = err
		delay := c.backoff(attempt)
		c.logger.Warn("Classification request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("backoff", delay))

		if err := c.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("classification aborted: %w", errors.Join(err, lastErr))
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

func (c *CompletionClient) attempt(ctx context.Context, prompt string) (string, attemptOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	resp, err := c.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:            c.params.Model,
		Prompt:           prompt,
		MaxTokens:        c.params.MaxTokens,
		Temperature:      c.params.Temperature,
		TopP:             c.params.TopP,
		FrequencyPenalty: c.params.FrequencyPenalty,
		PresencePenalty:  c.params.PresencePenalty,
	})
	if err != nil {
		return "", outcomeOf(err), normalizeError(err)
	}

	if len(resp.Choices) == 0 {
		return "", attemptTerminal, &APIError{Err: ErrNoChoices}
	}
	text := resp.Choices[0].Text
	if text == "" {
		return "", attemptTerminal, &APIError{Err: ErrEmptyText}
	}

	return text, attemptSuccess, nil
}

func (c *CompletionClient) backoff(attempt int) time.Duration {
	return c.baseBackoff << attempt
}

func outcomeOf(err error) attemptOutcome {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return attemptRetryable
	}
	return attemptTerminal
}

// normalizeError maps body decoding failures onto APIError. Transport
// errors pass through untouched even when they wrap io.EOF.
func normalizeError(err error) error {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &APIError{Err: fmt.Errorf("malformed response: %w", err)}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// endpointDoer pins every request to the configured endpoint and sorts
// failures into transport and status errors before go-openai sees them.
// go-openai drops zero-valued sampling fields; sampling puts them back.
type endpointDoer struct {
	endpoint *url.URL
	client   *http.Client
	sampling map[string]any
}

func (d *endpointDoer) Do(req *http.Request) (*http.Response, error) {
	target := *d.endpoint
	req.URL = &target
	req.Host = target.Host

	if err := d.restoreSampling(req); err != nil {
		return nil, fmt.Errorf("failed to rewrite request body: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}

func (d *endpointDoer) restoreSampling(req *http.Request) error {
	if req.Body == nil || len(d.sampling) == 0 {
		return nil
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}
	for key, value := range d.sampling {
		if _, ok := body[key]; ok {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		body[key] = encoded
	}

	rewritten, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(rewritten))
	req.ContentLength = int64(len(rewritten))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(rewritten)), nil
	}
	return nil
}
