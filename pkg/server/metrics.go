package server

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talehopper_http_requests_total",
			Help: "HTTP requests by route and status code.",
		},
		[]string{"method", "route", "code"},
	)
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talehopper_sessions_created_total",
		Help: "Story sessions created through the session API.",
	})
	feedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talehopper_feedback_total",
			Help: "Feedback submissions by outcome.",
		},
		[]string{"status"},
	)
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talehopper_feedback_rate_limited_total",
		Help: "Feedback submissions rejected by the rate limiter.",
	})
	coalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talehopper_generate_coalesced_total",
		Help: "Generate requests answered by an identical request already in flight.",
	})
)

func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		code := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		httpRequests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(code)).Inc()
		return err
	}
}
