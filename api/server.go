// Package api exposes the matching engine over HTTP: submission,
// cancellation, queries, stats, and the websocket event feed.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/peerflow/matchengine/internal/config"
	"github.com/peerflow/matchengine/internal/notifier"
	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// Engine is the queue engine surface the API needs.
type Engine interface {
	Submit(ctx context.Context, req *models.SubmitRequest) (*models.QueueItem, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.QueueItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.QueueItem, error)
	ListItems(ctx context.Context, filter *models.ItemFilter) ([]models.QueueItem, error)
	ListMatches(ctx context.Context, filter *models.MatchFilter) ([]models.MatchResult, error)
	Stats() models.QueueStats
}

// Server is the HTTP front of the matching engine.
type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	engine      Engine
	hub         *notifier.WSHub
	validator   *validator.Validate
	rateLimiter gin.HandlerFunc
}

// NewServer wires the router, middleware and routes. The websocket hub is
// optional; pass nil to disable the /ws endpoint.
func NewServer(logger *zap.Logger, engine Engine, hub *notifier.WSHub, cfg config.HTTPServerConfig) *Server {
	server := &Server{
		logger:    logger,
		engine:    engine,
		hub:       hub,
		validator: validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Per-IP rate limit on submissions only; reads stay unthrottled.
	rateFormat := cfg.RateLimit
	if rateFormat == "" {
		rateFormat = "100-M"
	}
	rate, err := limiter.NewRateFromFormatted(rateFormat)
	if err != nil {
		logger.Warn("invalid rate limit format, using default", zap.String("format", rateFormat))
		rate, _ = limiter.NewRateFromFormatted("100-M")
	}
	server.rateLimiter = ginlimiter.NewMiddleware(limiter.New(memory.NewStore(), rate))

	server.router = router
	server.registerRoutes()
	return server
}

// Router returns the internal gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the server as an http.Handler for embedding in http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.hub != nil {
		s.router.GET("/ws", func(c *gin.Context) {
			s.hub.ServeHTTP(c.Writer, c.Request)
		})
	}

	v1 := s.router.Group("/api/v1")
	{
		queue := v1.Group("/queue")
		{
			queue.POST("", s.rateLimiter, s.submit)
			queue.GET("", s.listItems)
			queue.GET("/stats", s.stats)
			queue.GET("/:id", s.getItem)
			queue.DELETE("/:id", s.cancel)
		}
		v1.GET("/matches", s.listMatches)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// submit accepts a queue submission and returns the accepted item. A match,
// if one is declared, settles asynchronously; the response reflects the
// item's state at accept time.
func (s *Server) submit(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	item, err := s.engine.Submit(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (s *Server) cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	item, err := s.engine.Cancel(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) getItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	item, err := s.engine.GetItem(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) listItems(c *gin.Context) {
	var filter models.ItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter", "detail": err.Error()})
		return
	}
	if raw := c.Query("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
			return
		}
		filter.AccountID = id
	}
	if raw := c.Query("min_amount"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_amount"})
			return
		}
		filter.MinAmount = v
	}
	if raw := c.Query("max_amount"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_amount"})
			return
		}
		filter.MaxAmount = v
	}

	items, err := s.engine.ListItems(c.Request.Context(), &filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (s *Server) listMatches(c *gin.Context) {
	var filter models.MatchFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter", "detail": err.Error()})
		return
	}

	matches, err := s.engine.ListMatches(c.Request.Context(), &filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

// writeError maps the engine's typed errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		verr     *errors.ValidationError
		risk     *errors.RiskRejectedError
		conflict *errors.ConflictError
		notFound *errors.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.As(err, &risk):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "submission rejected by risk check",
			"risk_score": risk.Score,
			"factors":    risk.Factors,
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "state": conflict.State})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	default:
		s.logger.Error("handler error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
