package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/sentiment-bot/internal/models"
)

type memoryRecord struct {
	record models.SentimentRecord
	seq    int
}

// MemoryStorage keeps records in a map keyed by message id. Inserts are
// insert-if-absent under the write lock, matching the Postgres conflict rule.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	seq     int
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryStorage) EnsureSchema(ctx context.Context) error {
	// Nothing to provision for in-memory storage
	return nil
}

func (s *MemoryStorage) Store(ctx context.Context, record *models.SentimentRecord) (StoreResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, &StorageError{Op: "insert record", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.MessageID]; exists {
		return DuplicateSkipped, nil
	}

	s.seq++
	stored := *record
	stored.CreatedAt = s.now()
	s.records[record.MessageID] = &memoryRecord{record: stored, seq: s.seq}

	record.CreatedAt = stored.CreatedAt
	return Stored, nil
}

func (s *MemoryStorage) FindByID(ctx context.Context, messageID string) (*models.SentimentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.records[messageID]; exists {
		record := r.record
		return &record, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) List(ctx context.Context, limit, offset int) ([]models.SentimentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := make([]*memoryRecord, 0, len(s.records))
	for _, r := range s.records {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].record.CreatedAt.Equal(ordered[j].record.CreatedAt) {
			return ordered[i].record.CreatedAt.After(ordered[j].record.CreatedAt)
		}
		return ordered[i].seq > ordered[j].seq
	})

	if offset >= len(ordered) {
		return nil, nil
	}
	ordered = ordered[offset:]
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}

	records := make([]models.SentimentRecord, len(ordered))
	for i, r := range ordered {
		records[i] = r.record
	}
	return records, nil
}

func (s *MemoryStorage) Stats(ctx context.Context, topUsers int) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sentiments := make(map[string]int)
	emotions := make(map[string]int)
	users := make(map[string]int)
	daily := make(map[models.TrendPoint]int)
	for _, r := range s.records {
		sentiments[r.record.Sentiment]++
		emotions[r.record.Emotion]++
		users[r.record.UserName]++
		if !r.record.CreatedAt.IsZero() {
			key := models.TrendPoint{
				Date:      r.record.CreatedAt.Format(models.TrendDateLayout),
				Sentiment: r.record.Sentiment,
			}
			daily[key]++
		}
	}

	return &models.Stats{
		Total:       len(s.records),
		BySentiment: sortedCounts(sentiments, 0),
		ByEmotion:   sortedCounts(emotions, 0),
		TopUsers:    sortedCounts(users, topUsers),
		Trends:      sortedTrends(daily),
	}, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func sortedCounts(counts map[string]int, limit int) []models.LabelCount {
	result := make([]models.LabelCount, 0, len(counts))
	for label, n := range counts {
		result = append(result, models.LabelCount{Label: label, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Label < result[j].Label
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}

func sortedTrends(daily map[models.TrendPoint]int) []models.TrendPoint {
	points := make([]models.TrendPoint, 0, len(daily))
	for key, n := range daily {
		key.Count = n
		points = append(points, key)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Date != points[j].Date {
			return points[i].Date < points[j].Date
		}
		return points[i].Sentiment < points[j].Sentiment
	})
	return points
}
