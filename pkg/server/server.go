package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"talehopper/pkg/flight"
	"talehopper/pkg/queue"
	"talehopper/pkg/schema"
	"talehopper/pkg/session"
	"talehopper/pkg/utils"
)

const msgRateLimited = "Rate limit exceeded. Please slow down."

type Options struct {
	Origins     []string
	SessionTTL  time.Duration
	MaxSessions int
	// FeedbackRate is the per-IP allowance for POST /feedback.
	FeedbackRate  rate.Limit
	FeedbackBurst int
	// GenerateTimeout bounds a shared /story/generate call.
	GenerateTimeout time.Duration
	Logger          *log.Logger
}

type Server struct {
	Echo      *echo.Echo
	Generator session.Generator
	Feedback  queue.Queue
	Sessions  *Sessions

	logger   *log.Logger
	inflight *flight.Group[string, schema.StoryResponse]
	opts     Options
}

func NewServer(gen session.Generator, fq queue.Queue, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.FeedbackRate == 0 {
		opts.FeedbackRate = rate.Every(time.Minute)
	}
	if opts.FeedbackBurst == 0 {
		opts.FeedbackBurst = 1
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 2 * time.Minute
	}
	if len(opts.Origins) == 0 {
		opts.Origins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &structValidator{}
	e.HTTPErrorHandler = errorHandler(opts.Logger)

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: opts.Origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(requestMetrics)

	s := &Server{
		Echo:      e,
		Generator: gen,
		Feedback:  fq,
		Sessions:  NewSessions(gen, opts.MaxSessions, opts.SessionTTL, opts.Logger),
		logger:    opts.Logger,
		inflight:  flight.NewGroup[string, schema.StoryResponse](),
		opts:      opts,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Echo.GET("/", s.handleGetRoot)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.Echo.POST("/story/generate", s.handlePostGenerate)
	s.Echo.POST("/feedback", s.handlePostFeedback, s.feedbackLimiter())

	api := s.Echo.Group("/api/sessions")
	api.POST("", s.handlePostSession)
	api.GET("/:id", s.handleGetSession)
	api.DELETE("/:id", s.handleDeleteSession)
	api.GET("/:id/template", s.handleGetTemplate)
	api.POST("/:id/start", s.handlePostStart)
	api.POST("/:id/choices", s.handlePostChoice)
	api.POST("/:id/regenerate", s.handlePostRegenerate)
	api.POST("/:id/retry", s.handlePostRetry)
	api.POST("/:id/restart", s.handlePostRestart)
}

// feedbackLimiter allows FeedbackBurst submissions per client IP, refilled at
// FeedbackRate.
func (s *Server) feedbackLimiter() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      s.opts.FeedbackRate,
		Burst:     s.opts.FeedbackBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, utils.ErrJSON("Unable to identify client."))
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			rateLimited.Inc()
			s.logger.Warn("feedback rate limited", "ip", identifier)
			return c.JSON(http.StatusTooManyRequests, utils.ErrJSON(msgRateLimited))
		},
	})
}

func (s *Server) Start(addr string) error {
	s.logger.Info("server listening", "addr", addr)
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", "sessions", s.Sessions.Len())
	err := s.Echo.Shutdown(ctx)
	s.Sessions.Purge()
	return err
}

// errorHandler renders every error as {"detail": msg}.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "An unexpected error occurred. Please try again later."
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			logger.Error("unhandled error", "path", c.Path(), "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, utils.ErrJSON(msg))
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

// structValidator lets handlers call c.Validate with the schema rules.
type structValidator struct{}

func (structValidator) Validate(i any) error {
	return schema.ValidateStruct(i)
}
