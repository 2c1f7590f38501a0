package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xaenox/sentiment-bot/internal/classifier"
	"github.com/xaenox/sentiment-bot/internal/dedup"
	"github.com/xaenox/sentiment-bot/internal/models"
	"github.com/xaenox/sentiment-bot/internal/storage"
	"go.uber.org/zap"
)

// Outcome is the terminal state of one pipeline run.
type Outcome int

const (
	OutcomeStored Outcome = iota + 1
	OutcomeDuplicate
	OutcomeSkipped
	OutcomeClientError
	OutcomeParseError
	OutcomeStorageError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeClientError:
		return "client_error"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeStorageError:
		return "storage_error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Ingestor runs the dedup → classify → parse → store pipeline for one
// message at a time. It is safe for concurrent use.
type Ingestor struct {
	guard      dedup.Guard
	classifier classifier.Classifier
	store      storage.Writer
	logger     *zap.Logger
}

func New(guard dedup.Guard, clf classifier.Classifier, store storage.Writer, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		guard:      guard,
		classifier: clf,
		store:      store,
		logger:     logger,
	}
}

// Handle processes msg to one terminal outcome. The returned error is
// non-nil for every failure outcome and is already logged.
func (i *Ingestor) Handle(ctx context.Context, msg models.InboundMessage) (outcome Outcome, err error) {
	log := i.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("run_id", uuid.NewString()))

	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeClientError
			err = fmt.Errorf("pipeline panic: %v", r)
			log.Error("Pipeline panicked", zap.Any("panic", r))
		}
	}()

	acquired, err := i.guard.TryAcquire(ctx, msg.ID)
	if err != nil {
		log.Warn("Dedup guard error", zap.Error(err))
	}
	if !acquired {
		log.Warn("Message already processed, skipping")
		return OutcomeSkipped, nil
	}

	log.Info("Message received",
		zap.String("user_name", msg.SenderName),
		zap.String("text", msg.Text))

	raw, err := i.classifier.Classify(ctx, msg.Text)
	if err != nil {
		log.Error("Classification failed", zap.Error(err))
		return OutcomeClientError, fmt.Errorf("message %s: classify: %w", msg.ID, err)
	}

	result, err := classifier.ParseResponse(raw)
	if err != nil {
		log.Error("Failed to parse classification",
			zap.Error(err),
			zap.String("response", raw))
		return OutcomeParseError, fmt.Errorf("message %s: %w", msg.ID, err)
	}

	log.Info("Message classified",
		zap.String("sentiment", result.Sentiment),
		zap.String("justification", result.Justification),
		zap.String("emotion", result.Emotion),
		zap.String("urgency", result.Urgency))

	stored, err := i.store.Store(ctx, models.NewSentimentRecord(msg, result))
	if err != nil {
		log.Error("Database error", zap.Error(err))
		return OutcomeStorageError, fmt.Errorf("message %s: %w", msg.ID, err)
	}

	if stored == storage.DuplicateSkipped {
		log.Warn("Duplicate message, skipping database insert")
		return OutcomeDuplicate, nil
	}

	log.Info("Message stored")
	return OutcomeStored, nil
}
