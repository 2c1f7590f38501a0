package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// failingTransport refuses every request, counting attempts.
type failingTransport struct {
	calls atomic.Int32
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return nil, errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
}

// flakyTransport fails the first n requests then delegates.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("i/o timeout")
	}
	return f.next.RoundTrip(r)
}

func completionServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, endpoint string, opts ...Option) *CompletionClient {
	t.Helper()
	c, err := NewCompletionClient("test-key", endpoint, zap.NewNop(), opts...)
	require.NoError(t, err)
	return c
}

func TestCompletionClient_RequestShape(t *testing.T) {
	req := require.New(t)

	var gotPath, gotAuth, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"SENTIMENT: Positive"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL+"/tasks/message")
	text, err := client.Classify(context.Background(), "great job!")
	req.NoError(err)
	req.Equal("SENTIMENT: Positive", text)

	req.Equal(http.MethodPost, gotMethod)
	req.Equal("/tasks/message", gotPath)
	req.Equal("Bearer test-key", gotAuth)
	req.Equal(DefaultModel, gotBody["model"])
	req.Contains(gotBody["prompt"], "Analyze this message: great job!")
	req.Contains(gotBody["prompt"], "SENTIMENT:")
	req.EqualValues(1024, gotBody["max_tokens"])
	req.InDelta(0.6, gotBody["temperature"], 1e-6)
	req.InDelta(0.95, gotBody["top_p"], 1e-6)
	req.InDelta(1.1, gotBody["presence_penalty"], 1e-6)
	req.Contains(gotBody, "frequency_penalty")
	req.InDelta(0.0, gotBody["frequency_penalty"], 1e-6)
}

func TestCompletionClient_SendsZeroSamplingFields(t *testing.T) {
	req := require.New(t)

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"ok"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithParams(Params{Model: DefaultModel, MaxTokens: 64}))
	_, err := client.Classify(context.Background(), "hi")
	req.NoError(err)

	for _, key := range []string{"temperature", "top_p", "frequency_penalty", "presence_penalty"} {
		req.Contains(gotBody, key)
		req.InDelta(0.0, gotBody[key], 1e-6, key)
	}
	req.EqualValues(64, gotBody["max_tokens"])
}

func TestCompletionClient_AcceptsCreated(t *testing.T) {
	req := require.New(t)
	srv := completionServer(t, http.StatusCreated, `{"choices":[{"text":"ok"}]}`, nil)

	text, err := newTestClient(t, srv.URL).Classify(context.Background(), "hi")
	req.NoError(err)
	req.Equal("ok", text)
}

func TestCompletionClient_TerminalFailures(t *testing.T) {
	tests := []struct {
		description string
		status      int
		body        string
		sentinel    error
		statusCode  int
	}{
		{"Should not retry a server error", http.StatusInternalServerError, `{"error":"boom"}`, nil, http.StatusInternalServerError},
		{"Should not retry an auth failure", http.StatusUnauthorized, `{"error":"bad key"}`, nil, http.StatusUnauthorized},
		{"Should reject a 202 status", http.StatusAccepted, `{"choices":[{"text":"x"}]}`, nil, http.StatusAccepted},
		{"Should fail on missing choices", http.StatusOK, `{"id":"x"}`, ErrNoChoices, 0},
		{"Should fail on empty choices", http.StatusOK, `{"choices":[]}`, ErrNoChoices, 0},
		{"Should fail on empty text", http.StatusOK, `{"choices":[{"text":""}]}`, ErrEmptyText, 0},
		{"Should fail on malformed JSON", http.StatusOK, `{"choices":[`, nil, 0},
		{"Should fail on an empty body", http.StatusOK, ``, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			var hits atomic.Int32
			srv := completionServer(t, tt.status, tt.body, &hits)
			sleeper := &sleepRecorder{}

			_, err := newTestClient(t, srv.URL, WithSleeper(sleeper.Sleep)).Classify(context.Background(), "hi")
			req.Error(err)

			var apiErr *APIError
			req.True(errors.As(err, &apiErr), "got %T: %v", err, err)
			req.Equal(tt.statusCode, apiErr.StatusCode)
			if tt.sentinel != nil {
				req.ErrorIs(err, tt.sentinel)
			}
			req.Equal(int32(1), hits.Load())
			req.Empty(sleeper.Delays())
		})
	}
}

func TestCompletionClient_RetriesTransportFailures(t *testing.T) {
	req := require.New(t)
	transport := &failingTransport{}
	sleeper := &sleepRecorder{}

	client := newTestClient(t, "http://classifier.invalid/tasks/message",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleeper(sleeper.Sleep))

	_, err := client.Classify(context.Background(), "hi")
	req.Error(err)
	req.ErrorIs(err, ErrRetriesExhausted)

	var transportErr *TransportError
	req.True(errors.As(err, &transportErr))

	req.Equal(int32(3), transport.calls.Load())
	req.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.Delays())
}

// eofTransport drops the connection the way a server closing mid-request does.
type eofTransport struct {
	calls atomic.Int32
}

func (e *eofTransport) RoundTrip(*http.Request) (*http.Response, error) {
	e.calls.Add(1)
	return nil, io.EOF
}

func TestCompletionClient_ConnectionEOFIsRetryable(t *testing.T) {
	req := require.New(t)
	transport := &eofTransport{}
	sleeper := &sleepRecorder{}

	client := newTestClient(t, "http://classifier.invalid/tasks/message",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleeper(sleeper.Sleep))

	_, err := client.Classify(context.Background(), "hi")
	req.ErrorIs(err, ErrRetriesExhausted)

	var transportErr *TransportError
	req.True(errors.As(err, &transportErr))
	var apiErr *APIError
	req.False(errors.As(err, &apiErr))
	req.Equal(int32(3), transport.calls.Load())
}

func TestCompletionClient_RecoversAfterTransportFailure(t *testing.T) {
	req := require.New(t)
	srv := completionServer(t, http.StatusOK, `{"choices":[{"text":"SENTIMENT: Positive"}]}`, nil)
	transport := &flakyTransport{failures: 1, next: http.DefaultTransport}
	sleeper := &sleepRecorder{}

	client := newTestClient(t, srv.URL,
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleeper(sleeper.Sleep))

	text, err := client.Classify(context.Background(), "hi")
	req.NoError(err)
	req.Equal("SENTIMENT: Positive", text)
	req.Equal(int32(2), transport.calls.Load())
	req.Equal([]time.Duration{time.Second}, sleeper.Delays())
}

func TestCompletionClient_RealBackoffTiming(t *testing.T) {
	req := require.New(t)
	transport := &failingTransport{}
	base := 10 * time.Millisecond

	client := newTestClient(t, "http://classifier.invalid/",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithBaseBackoff(base))

	start := time.Now()
	_, err := client.Classify(context.Background(), "hi")
	req.ErrorIs(err, ErrRetriesExhausted)
	req.GreaterOrEqual(time.Since(start), base+2*base+4*base)
	req.Equal(int32(3), transport.calls.Load())
}

func TestCompletionClient_StopsWhenContextCancelled(t *testing.T) {
	req := require.New(t)
	transport := &failingTransport{}
	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, "http://classifier.invalid/",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))

	_, err := client.Classify(ctx, "hi")
	req.ErrorIs(err, context.Canceled)
	req.Equal(int32(1), transport.calls.Load())
}

func TestCompletionClient_AttemptTimeoutIsRetryable(t *testing.T) {
	req := require.New(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sleeper := &sleepRecorder{}
	client := newTestClient(t, srv.URL,
		WithAttemptTimeout(20*time.Millisecond),
		WithMaxAttempts(2),
		WithSleeper(sleeper.Sleep))

	_, err := client.Classify(context.Background(), "hi")
	req.ErrorIs(err, ErrRetriesExhausted)
	req.Len(sleeper.Delays(), 2)
}

func TestNewCompletionClient_InvalidEndpoint(t *testing.T) {
	_, err := NewCompletionClient("k", "not a url", zap.NewNop())
	require.Error(t, err)
}
