package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"talehopper/pkg/queue"
	"talehopper/pkg/schema"
	"talehopper/pkg/story"
	"talehopper/pkg/utils"
)

const (
	msgFeedbackThanks   = "Thank you for your feedback! We'll review it soon."
	msgFeedbackEmpty    = "Feedback message cannot be empty"
	msgFeedbackTooLong  = "Feedback message too long (max 5000 characters)"
	msgFeedbackFailed   = "Failed to send feedback. Please try again later."
	msgFeedbackBusy     = "Too much feedback right now. Please try again later."
	msgChoiceMissing    = "Story choice missing."
	msgHistoryMissing   = "Story history missing."
	msgInvalidJSON      = "invalid json"
	msgGenerationFailed = "Story generation failed. Please try again."
)

// POST /story/generate
// Starts a story when only a prompt is sent, continues it when history and a
// choice are sent. Identical concurrent requests share one generation.
func (s *Server) handlePostGenerate(c echo.Context) error {
	var req schema.StoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	if req.History == nil {
		req.History = []string{}
	}

	key, err := json.Marshal(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	// The work is shared, so one caller going away must not cancel it.
	parent := context.WithoutCancel(c.Request().Context())
	resp, err, shared := s.inflight.Do(string(key), func() (schema.StoryResponse, error) {
		ctx, cancel := context.WithTimeout(parent, s.opts.GenerateTimeout)
		defer cancel()
		return s.Generator.Generate(ctx, req)
	})
	if shared {
		coalesced.Inc()
	}
	if err != nil {
		return s.generateError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) generateError(err error) error {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, story.ErrMissingChoice):
		return echo.NewHTTPError(http.StatusBadRequest, msgChoiceMissing)
	case errors.Is(err, story.ErrMissingHistory):
		return echo.NewHTTPError(http.StatusBadRequest, msgHistoryMissing)
	case errors.Is(err, story.ErrGeneration):
		s.logger.Error("story generation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("story generation failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, msgGenerationFailed).SetInternal(err)
	}
}

// POST /feedback
// Delivery happens in the background; the reader is answered once the
// feedback is queued.
func (s *Server) handlePostFeedback(c echo.Context) error {
	var fb schema.Feedback
	if err := c.Bind(&fb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}

	fb, err := fb.Validate()
	if err != nil {
		feedbackTotal.WithLabelValues("invalid").Inc()
		var verr *schema.ValidationError
		if errors.As(err, &verr) && verr.Kind == schema.KindTooLong {
			return echo.NewHTTPError(http.StatusBadRequest, msgFeedbackTooLong)
		}
		return echo.NewHTTPError(http.StatusBadRequest, msgFeedbackEmpty)
	}

	if _, err := s.Feedback.Add(fb); err != nil {
		feedbackTotal.WithLabelValues("rejected").Inc()
		s.logger.Error("feedback not queued", "error", err, "message", utils.LimitStr(fb.Message, 50))
		if errors.Is(err, queue.ErrFull) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, msgFeedbackBusy)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, msgFeedbackFailed)
	}

	feedbackTotal.WithLabelValues("queued").Inc()
	return c.JSON(http.StatusOK, schema.FeedbackResponse{Success: true, Message: msgFeedbackThanks})
}
