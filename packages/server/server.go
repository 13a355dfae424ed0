package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"txsim-server/packages/simulator"
	"txsim-server/packages/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

type Handler struct {
	log   *zap.Logger
	store store.Store
	sim   *simulator.Simulator
	now   func() time.Time
}

func NewHandler(log *zap.Logger, s store.Store, sim *simulator.Simulator) *Handler {
	return &Handler{
		log:   log,
		store: s,
		sim:   sim,
		now:   time.Now,
	}
}

// LoggerMiddleware creates a middleware for logging requests
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		// Log request
		logger.Info("Incoming request",
			zap.String("request_id", requestID),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("method", c.Request.Method),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		)

		// Process request
		c.Next()

		logger.Info("Request completed",
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// CORSMiddleware allows any origin and answers preflight requests itself.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func NewRouter(h *Handler, log *zap.Logger) *gin.Engine {
	if err := registerValidations(); err != nil {
		log.Error("Failed to register validations", zap.Error(err))
	}

	r := gin.New()
	// Add recovery middleware
	r.Use(gin.Recovery())
	// Add logging middleware
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	r.GET("/health", h.Health)

	testCases := r.Group("/test-cases")
	{
		testCases.GET("", h.ListTestCases)
		testCases.POST("", h.CreateTestCase)
		testCases.GET("/:id", h.GetTestCase)
		testCases.PUT("/:id", h.UpdateTestCase)
		testCases.PATCH("/:id", h.UpdateTestCase)
		testCases.POST("/:id/:action", h.ControlTestCase)
	}

	r.GET("/logs/:id", h.StreamLogs)
	r.GET("/reports/:id", h.GetReport)

	r.GET("/cards", h.ListCards)
	r.POST("/cards", h.CreateCard)

	return r
}

// RunServer serves h on addr until ctx is cancelled, then drains in-flight
// requests. Open log streams see their request context end and stop.
func RunServer(ctx context.Context, addr string, h *Handler, log *zap.Logger) error {
	log.Info("Starting server")
	gin.SetMode(gin.ReleaseMode)

	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(h, log),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "failed to start server")
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down server")
	}
	return nil
}
