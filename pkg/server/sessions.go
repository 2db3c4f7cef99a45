package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"

	"talehopper/pkg/schema"
	"talehopper/pkg/session"
)

const (
	msgSessionNotFound = "Session not found."
	msgSessionBusy     = "A request for this session is already in progress."
	msgNoTemplate      = "No story has been started in this session yet."
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session is busy")
)

// entry pairs a controller with the flag that admits one generating request
// at a time.
type entry struct {
	ctrl *session.Controller
	busy atomic.Bool
}

// Sessions holds the controllers of the session API. Idle sessions expire
// after the TTL and the least recently used are evicted beyond capacity.
type Sessions struct {
	gen    session.Generator
	logger *log.Logger
	cache  *expirable.LRU[string, *entry]
}

func NewSessions(gen session.Generator, size int, ttl time.Duration, logger *log.Logger) *Sessions {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Sessions{gen: gen, logger: logger}
	s.cache = expirable.NewLRU[string, *entry](size, func(id string, _ *entry) {
		logger.Debug("session evicted", "session", id)
	}, ttl)
	return s
}

func (s *Sessions) New() *session.Controller {
	c := session.New(s.gen, s.logger)
	s.cache.Add(c.ID, &entry{ctrl: c})
	return c
}

// Get returns the controller for id and refreshes its expiry.
func (s *Sessions) Get(id string) (*session.Controller, bool) {
	e, ok := s.get(id)
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// Acquire returns the controller for id and holds it until release is
// called. While it is held, Acquire fails with ErrSessionBusy.
func (s *Sessions) Acquire(id string) (*session.Controller, func(), error) {
	e, ok := s.get(id)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, nil, ErrSessionBusy
	}
	return e.ctrl, func() { e.busy.Store(false) }, nil
}

func (s *Sessions) get(id string) (*entry, bool) {
	e, ok := s.cache.Get(id)
	if ok {
		s.cache.Add(id, e)
	}
	return e, ok
}

func (s *Sessions) Delete(id string) bool {
	return s.cache.Remove(id)
}

func (s *Sessions) Len() int {
	return s.cache.Len()
}

func (s *Sessions) Purge() {
	s.cache.Purge()
}

type startReq struct {
	Prompt schema.Prompt `json:"prompt"`
}

type choiceReq struct {
	Choice string `json:"choice" validate:"required"`
}

func (s *Server) session(c echo.Context) (*session.Controller, error) {
	ctrl, ok := s.Sessions.Get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, msgSessionNotFound)
	}
	return ctrl, nil
}

// acquire is session for handlers that call the generator. The caller must
// run release when done.
func (s *Server) acquire(c echo.Context) (*session.Controller, func(), error) {
	ctrl, release, err := s.Sessions.Acquire(c.Param("id"))
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, nil, echo.NewHTTPError(http.StatusNotFound, msgSessionNotFound)
	case errors.Is(err, ErrSessionBusy):
		s.logger.Warn("session busy", "session", c.Param("id"), "path", c.Path())
		return nil, nil, echo.NewHTTPError(http.StatusConflict, msgSessionBusy)
	}
	return ctrl, release, err
}

// sessionError maps controller errors onto HTTP errors. Generation failures
// are not errors here; they are reported in the snapshot.
func sessionError(err error) error {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrNothingToRegenerate),
		errors.Is(err, session.ErrNothingToRetry):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}

// POST /api/sessions
// Creates a session and starts its story. An invalid prompt creates nothing.
func (s *Server) handlePostSession(c echo.Context) error {
	var req startReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	if _, err := schema.ValidatePrompt(req.Prompt); err != nil {
		return sessionError(err)
	}

	ctrl := s.Sessions.New()
	sessionsCreated.Inc()
	if err := ctrl.Start(c.Request().Context(), req.Prompt); err != nil {
		s.Sessions.Delete(ctrl.ID)
		return sessionError(err)
	}
	return c.JSON(http.StatusCreated, ctrl.Snapshot())
}

// GET /api/sessions/:id
func (s *Server) handleGetSession(c echo.Context) error {
	ctrl, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// DELETE /api/sessions/:id
func (s *Server) handleDeleteSession(c echo.Context) error {
	if !s.Sessions.Delete(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, msgSessionNotFound)
	}
	return c.NoContent(http.StatusNoContent)
}

// GET /api/sessions/:id/template
// The prompt of the last started story, for prefilling a new one.
func (s *Server) handleGetTemplate(c echo.Context) error {
	ctrl, err := s.session(c)
	if err != nil {
		return err
	}
	p, ok := ctrl.Template()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, msgNoTemplate)
	}
	return c.JSON(http.StatusOK, p)
}

// POST /api/sessions/:id/start
// Starts a new story in an existing session, usually after a restart.
func (s *Server) handlePostStart(c echo.Context) error {
	ctrl, release, err := s.acquire(c)
	if err != nil {
		return err
	}
	defer release()
	var req startReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	if err := ctrl.Start(c.Request().Context(), req.Prompt); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// POST /api/sessions/:id/choices
func (s *Server) handlePostChoice(c echo.Context) error {
	ctrl, release, err := s.acquire(c)
	if err != nil {
		return err
	}
	defer release()
	var req choiceReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidJSON)
	}
	if err := c.Validate(&req); err != nil {
		return sessionError(err)
	}
	if err := ctrl.Advance(c.Request().Context(), req.Choice); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// POST /api/sessions/:id/regenerate
func (s *Server) handlePostRegenerate(c echo.Context) error {
	ctrl, release, err := s.acquire(c)
	if err != nil {
		return err
	}
	defer release()
	if err := ctrl.RegenerateLast(c.Request().Context()); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// POST /api/sessions/:id/retry
func (s *Server) handlePostRetry(c echo.Context) error {
	ctrl, release, err := s.acquire(c)
	if err != nil {
		return err
	}
	defer release()
	if err := ctrl.Retry(c.Request().Context()); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}

// POST /api/sessions/:id/restart
func (s *Server) handlePostRestart(c echo.Context) error {
	ctrl, err := s.session(c)
	if err != nil {
		return err
	}
	ctrl.Restart()
	return c.JSON(http.StatusOK, ctrl.Snapshot())
}
