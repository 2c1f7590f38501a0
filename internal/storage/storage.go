package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/sentiment-bot/internal/models"
)

// StoreResult tells the caller whether a row was written.
type StoreResult int

const (
	Stored StoreResult = iota + 1
	DuplicateSkipped
)

func (r StoreResult) String() string {
	switch r {
	case Stored:
		return "stored"
	case DuplicateSkipped:
		return "duplicate_skipped"
	default:
		return fmt.Sprintf("StoreResult(%d)", int(r))
	}
}

var ErrNotFound = errors.New("sentiment record not found")

// StorageError wraps connection and query failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type Writer interface {
	EnsureSchema(ctx context.Context) error
	// Store inserts record unless its message id already exists. A
	// conflicting insert is a no-op reported as DuplicateSkipped.
	Store(ctx context.Context, record *models.SentimentRecord) (StoreResult, error)
}

// Reader is the read-only side used by the dashboard API.
type Reader interface {
	FindByID(ctx context.Context, messageID string) (*models.SentimentRecord, error)
	List(ctx context.Context, limit, offset int) ([]models.SentimentRecord, error)
	Stats(ctx context.Context, topUsers int) (*models.Stats, error)
}

type Storage interface {
	Writer
	Reader
	Close() error
}

var (
	_ Storage = (*PostgresStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
