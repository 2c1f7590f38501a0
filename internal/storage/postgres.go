package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/sentiment-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	return NewPostgresStorageFromDB(db, logger), nil
}

func NewPostgresStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

// EnsureSchema creates the table and adds missing columns. Safe to run on
// every start.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &StorageError{Op: "acquire connection", Err: err}
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, string(migrationSQL)); err != nil {
		return &StorageError{Op: "ensure schema", Err: err}
	}

	s.logger.Info("Database schema ensured")
	return nil
}

const insertRecordQuery = `
	INSERT INTO sentiment_analysis (
		message_id, user_name, message, sentiment, justification, emotion, urgency
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (message_id) DO NOTHING
	RETURNING created_at`

func (s *PostgresStorage) Store(ctx context.Context, record *models.SentimentRecord) (StoreResult, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, &StorageError{Op: "acquire connection", Err: err}
	}
	defer conn.Close()

	var createdAt time.Time
	err = conn.QueryRowContext(ctx, insertRecordQuery,
		record.MessageID,
		record.UserName,
		record.Message,
		record.Sentiment,
		record.Justification,
		record.Emotion,
		record.Urgency,
	).Scan(&createdAt)

	// ON CONFLICT DO NOTHING returns no row
	if errors.Is(err, sql.ErrNoRows) {
		return DuplicateSkipped, nil
	}
	if err != nil {
		return 0, &StorageError{Op: "insert record", Err: err}
	}

	record.CreatedAt = createdAt
	return Stored, nil
}

const selectRecordColumns = `
	SELECT message_id, COALESCE(user_name, ''), COALESCE(message, ''),
		COALESCE(sentiment, ''), COALESCE(justification, ''),
		COALESCE(emotion, ''), COALESCE(urgency, ''), created_at
	FROM sentiment_analysis`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.SentimentRecord, error) {
	var record models.SentimentRecord
	var createdAt sql.NullTime
	err := row.Scan(
		&record.MessageID,
		&record.UserName,
		&record.Message,
		&record.Sentiment,
		&record.Justification,
		&record.Emotion,
		&record.Urgency,
		&createdAt,
	)
	if err != nil {
		return record, err
	}
	record.CreatedAt = createdAt.Time
	return record, nil
}

func (s *PostgresStorage) FindByID(ctx context.Context, messageID string) (*models.SentimentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecordColumns+` WHERE message_id = $1`, messageID)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "find record", Err: err}
	}

	return &record, nil
}

func (s *PostgresStorage) List(ctx context.Context, limit, offset int) ([]models.SentimentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecordColumns+` ORDER BY created_at DESC NULLS LAST LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, &StorageError{Op: "list records", Err: err}
	}
	defer rows.Close()

	var records []models.SentimentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan record", Err: err}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list records", Err: err}
	}

	return records, nil
}

func (s *PostgresStorage) Stats(ctx context.Context, topUsers int) (*models.Stats, error) {
	stats := &models.Stats{}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sentiment_analysis`).Scan(&stats.Total)
	if err != nil {
		return nil, &StorageError{Op: "count records", Err: err}
	}

	if stats.BySentiment, err = s.countBy(ctx, "sentiment", 0); err != nil {
		return nil, err
	}
	if stats.ByEmotion, err = s.countBy(ctx, "emotion", 0); err != nil {
		return nil, err
	}
	if stats.TopUsers, err = s.countBy(ctx, "user_name", topUsers); err != nil {
		return nil, err
	}
	if stats.Trends, err = s.trends(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

// trends counts records per day and sentiment, oldest day first.
func (s *PostgresStorage) trends(ctx context.Context) ([]models.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT created_at::date AS day, COALESCE(sentiment, '') AS sentiment, COUNT(*) AS n
		FROM sentiment_analysis
		WHERE created_at IS NOT NULL
		GROUP BY 1, 2
		ORDER BY 1, 2`)
	if err != nil {
		return nil, &StorageError{Op: "sentiment trends", Err: err}
	}
	defer rows.Close()

	points := []models.TrendPoint{}
	for rows.Next() {
		var (
			day time.Time
			p   models.TrendPoint
		)
		if err := rows.Scan(&day, &p.Sentiment, &p.Count); err != nil {
			return nil, &StorageError{Op: "scan sentiment trend", Err: err}
		}
		p.Date = day.Format(models.TrendDateLayout)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "sentiment trends", Err: err}
	}

	return points, nil
}

// countBy groups on one of the fixed column names above; column is never user input.
func (s *PostgresStorage) countBy(ctx context.Context, column string, limit int) ([]models.LabelCount, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(%s, '') AS label, COUNT(*) AS n
		FROM sentiment_analysis
		GROUP BY 1
		ORDER BY n DESC, label ASC`, column)

	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "count by " + column, Err: err}
	}
	defer rows.Close()

	counts := []models.LabelCount{}
	for rows.Next() {
		var c models.LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, &StorageError{Op: "scan " + column + " count", Err: err}
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "count by " + column, Err: err}
	}

	return counts, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
