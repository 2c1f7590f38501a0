package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaenox/sentiment-bot/internal/models"
	"github.com/xaenox/sentiment-bot/internal/storage"
	"go.uber.org/zap"
)

type brokenReader struct{}

func (brokenReader) FindByID(context.Context, string) (*models.SentimentRecord, error) {
	return nil, errors.New("db down")
}

func (brokenReader) List(context.Context, int, int) ([]models.SentimentRecord, error) {
	return nil, errors.New("db down")
}

func (brokenReader) Stats(context.Context, int) (*models.Stats, error) {
	return nil, errors.New("db down")
}

func seededStore(t *testing.T, n int) *storage.MemoryStorage {
	t.Helper()
	store := storage.NewMemoryStorage()
	for i := 1; i <= n; i++ {
		_, err := store.Store(context.Background(), &models.SentimentRecord{
			MessageID: fmt.Sprint(i),
			UserName:  "Ana",
			Message:   "msg",
			Sentiment: "Positive",
			Emotion:   "Happy",
			Urgency:   "Low",
		})
		require.NoError(t, err)
	}
	return store
}

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	rec := do(t, NewServer(storage.NewMemoryStorage(), zap.NewNop()), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ListSentiments(t *testing.T) {
	req := require.New(t)
	s := NewServer(seededStore(t, 3), zap.NewNop())

	rec := do(t, s, "/api/sentiments?limit=2")
	req.Equal(http.StatusOK, rec.Code)

	var resp ListResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	req.Equal(2, resp.Limit)
	req.Len(resp.Items, 2)
	req.Equal("3", resp.Items[0].MessageID)
	req.Equal("2", resp.Items[1].MessageID)
	req.False(resp.Items[0].CreatedAt.Before(resp.Items[1].CreatedAt))

	rec = do(t, s, "/api/sentiments?limit=2&offset=2")
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	req.Len(resp.Items, 1)
	req.Equal("1", resp.Items[0].MessageID)
}

func TestServer_ListSentimentsBadParams(t *testing.T) {
	s := NewServer(storage.NewMemoryStorage(), zap.NewNop())

	for _, target := range []string{"/api/sentiments?limit=abc", "/api/sentiments?limit=0", "/api/sentiments?offset=-1"} {
		t.Run(target, func(t *testing.T) {
			require.Equal(t, http.StatusBadRequest, do(t, s, target).Code)
		})
	}
}

func TestServer_GetSentiment(t *testing.T) {
	req := require.New(t)
	s := NewServer(seededStore(t, 1), zap.NewNop())

	rec := do(t, s, "/api/sentiments/1")
	req.Equal(http.StatusOK, rec.Code)
	var view SentimentView
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	req.Equal("1", view.MessageID)
	req.Equal("Positive", view.Sentiment)

	req.Equal(http.StatusNotFound, do(t, s, "/api/sentiments/404").Code)
}

func TestServer_Stats(t *testing.T) {
	req := require.New(t)
	s := NewServer(seededStore(t, 2), zap.NewNop())

	rec := do(t, s, "/api/stats")
	req.Equal(http.StatusOK, rec.Code)

	var stats models.Stats
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &stats))
	req.Equal(2, stats.Total)
	req.Equal([]models.LabelCount{{Label: "Positive", Count: 2}}, stats.BySentiment)
}

func TestServer_ReaderErrors(t *testing.T) {
	s := NewServer(brokenReader{}, zap.NewNop())

	for _, target := range []string{"/api/sentiments", "/api/sentiments/1", "/api/stats"} {
		t.Run(target, func(t *testing.T) {
			require.Equal(t, http.StatusInternalServerError, do(t, s, target).Code)
		})
	}
}
