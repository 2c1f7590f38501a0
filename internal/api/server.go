package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"
	"github.com/xaenox/sentiment-bot/internal/models"
	"github.com/xaenox/sentiment-bot/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	statsTopUsers   = 10
)

// Server exposes the stored sentiment records read-only.
type Server struct {
	echo   *echo.Echo
	reader storage.Reader
	logger *zap.Logger
}

type SentimentView struct {
	MessageID     string    `json:"message_id"`
	UserName      string    `json:"user_name"`
	Message       string    `json:"message"`
	Sentiment     string    `json:"sentiment"`
	Justification string    `json:"justification"`
	Emotion       string    `json:"emotion"`
	Urgency       string    `json:"urgency"`
	CreatedAt     time.Time `json:"created_at"`
}

type ListResponse struct {
	Items  []SentimentView `json:"items"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func NewServer(reader storage.Reader, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("HTTP request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	s := &Server{
		echo:   e,
		reader: reader,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)
	s.echo.GET("/api/sentiments", s.listSentiments)
	s.echo.GET("/api/sentiments/:id", s.getSentiment)
	s.echo.GET("/api/stats", s.stats)
}

func (s *Server) Start(addr string) error {
	s.logger.Info("API server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSentiments(c echo.Context) error {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
	}
	limit = min(limit, maxPageSize)

	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid offset"})
	}

	records, err := s.reader.List(c.Request().Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to list sentiments", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sentiments"})
	}

	return c.JSON(http.StatusOK, ListResponse{
		Items:  lo.Map(records, func(r models.SentimentRecord, _ int) SentimentView { return toView(r) }),
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) getSentiment(c echo.Context) error {
	id := c.Param("id")
	record, err := s.reader.FindByID(c.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	if err != nil {
		s.logger.Error("Failed to get sentiment", zap.Error(err), zap.String("message_id", id))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get sentiment"})
	}

	return c.JSON(http.StatusOK, toView(*record))
}

func (s *Server) stats(c echo.Context) error {
	stats, err := s.reader.Stats(c.Request().Context(), statsTopUsers)
	if err != nil {
		s.logger.Error("Failed to compute stats", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

func toView(r models.SentimentRecord) SentimentView {
	return SentimentView{
		MessageID:     r.MessageID,
		UserName:      r.UserName,
		Message:       r.Message,
		Sentiment:     r.Sentiment,
		Justification: r.Justification,
		Emotion:       r.Emotion,
		Urgency:       r.Urgency,
		CreatedAt:     r.CreatedAt,
	}
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
