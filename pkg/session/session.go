// Package session implements the controller behind an interactive story: it
// tracks the prompt, the generated history and the offered choices, and
// sequences requests to a Generator so that history and choices always
// change together.
//
// Only one request is meant to be outstanding per controller at a time.
// The controller does not serialize callers; responses that belong to an
// earlier epoch (before Restart) are discarded instead of applied.
package session

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"

	"talehopper/pkg/schema"
)

// Generator produces the next state of a story. The returned history is the
// complete narrative, not a delta.
type Generator interface {
	Generate(ctx context.Context, req schema.StoryRequest) (schema.StoryResponse, error)
}

var (
	ErrNotStarted          = errors.New("story has not been started")
	ErrNothingToRegenerate = errors.New("story has no paragraph to regenerate")
	ErrNothingToRetry      = errors.New("no failed choice to retry")
)

const (
	msgStartFailed      = "Failed to start story. Please try again."
	msgContinueFailed   = "Failed to continue story. Please try again."
	msgRegenerateFailed = "Failed to regenerate story. Please try again."
)

// Snapshot is a consistent view of a controller. History and Choices are
// shared with the controller and must not be modified; the controller only
// ever replaces them.
type Snapshot struct {
	ID            string         `json:"id"`
	Prompt        *schema.Prompt `json:"prompt,omitempty"`
	History       []string       `json:"history"`
	Choices       []string       `json:"choices"`
	LastChoice    string         `json:"last_choice,omitempty"`
	PendingChoice string         `json:"pending_choice,omitempty"`
	Started       bool           `json:"started"`
	Loading       bool           `json:"loading"`
	Error         string         `json:"error,omitempty"`
	Ended         bool           `json:"ended"`
	StagePlan     map[string]int `json:"stage_plan,omitempty"`
	Epoch         uint64         `json:"epoch"`
}

type Controller struct {
	ID string

	gen    Generator
	logger *log.Logger

	mu       sync.Mutex
	prompt   *schema.Prompt
	history  []string
	choices  []string
	plan     map[string]int
	last     string
	pending  string
	started  bool
	inflight int
	errMsg   string
	epoch    uint64

	template *schema.Prompt
}

func New(gen Generator, logger *log.Logger) *Controller {
	id := ksuid.New().String()
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		ID:     id,
		gen:    gen,
		logger: logger.With("session", id),
	}
}

// Start validates p and requests the opening paragraph. An invalid prompt is
// returned as a *schema.ValidationError and the generator is not called.
// Generation failures are recorded on the session, not returned.
func (c *Controller) Start(ctx context.Context, p schema.Prompt) error {
	p, err := schema.ValidatePrompt(p)
	if err != nil {
		return err
	}

	c.mu.Lock()
	epoch := c.begin()
	req := schema.NewStoryRequest(p, nil, "", nil)
	c.mu.Unlock()
	defer c.done()

	c.logger.Info("starting story", "age", p.Age, "language", p.Language, "length", p.Length)
	resp, err := c.gen.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(epoch) {
		return nil
	}
	if err != nil {
		c.fail(msgStartFailed, err)
		return nil
	}

	prompt := p.Clone()
	template := p.Clone()
	c.prompt = &prompt
	c.template = &template
	c.apply(resp)
	c.started = true
	c.last = ""
	c.pending = ""
	return nil
}

// Advance continues the story with choice. It is a no-op returning
// ErrNotStarted when no story is running.
func (c *Controller) Advance(ctx context.Context, choice string) error {
	c.mu.Lock()
	if c.prompt == nil {
		c.mu.Unlock()
		c.logger.Debug("advance ignored", "reason", ErrNotStarted)
		return ErrNotStarted
	}
	epoch := c.begin()
	c.pending = choice
	req := schema.NewStoryRequest(*c.prompt, c.history, choice, c.plan)
	c.mu.Unlock()
	defer c.done()

	c.logger.Info("advancing story", "choice", choice, "paragraphs", len(req.History))
	resp, err := c.gen.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(epoch) {
		return nil
	}
	if err != nil {
		c.fail(msgContinueFailed, err)
		return nil
	}
	c.apply(resp)
	c.last = choice
	c.pending = ""
	return nil
}

// Retry re-issues the most recent advance that failed, using the choice that
// was attempted.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.prompt == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	choice := c.pending
	c.mu.Unlock()
	if choice == "" {
		return ErrNothingToRetry
	}
	return c.Advance(ctx, choice)
}

// RegenerateLast re-derives the last paragraph and its choices by asking for
// the step again from the history before it. The shortened history is never
// stored: on failure the session keeps its previous history and choices.
// After a failed advance the attempted choice is used instead of the last
// committed one.
func (c *Controller) RegenerateLast(ctx context.Context) error {
	c.mu.Lock()
	if c.prompt == nil {
		c.mu.Unlock()
		c.logger.Debug("regenerate ignored", "reason", ErrNotStarted)
		return ErrNotStarted
	}
	if len(c.history) == 0 {
		c.mu.Unlock()
		c.logger.Debug("regenerate ignored", "reason", ErrNothingToRegenerate)
		return ErrNothingToRegenerate
	}
	epoch := c.begin()

	previous := c.history[:len(c.history)-1]
	var req schema.StoryRequest
	if len(previous) == 0 {
		req = schema.NewStoryRequest(*c.prompt, nil, "", c.plan)
	} else {
		req = schema.NewStoryRequest(*c.prompt, previous, cmp.Or(c.pending, c.last), c.plan)
	}
	c.mu.Unlock()
	defer c.done()

	c.logger.Info("regenerating last paragraph", "paragraphs", len(req.History), "choice", req.Choice)
	resp, err := c.gen.Generate(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(epoch) {
		return nil
	}
	if err != nil {
		c.fail(msgRegenerateFailed, err)
		return nil
	}
	c.apply(resp)
	c.last = req.Choice
	if req.Choice != "" {
		c.pending = ""
	}
	return nil
}

// Restart returns the session to its initial state. The last used prompt is
// kept as a template. Requests still in flight are discarded when they land.
func (c *Controller) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prompt = nil
	c.history = nil
	c.choices = nil
	c.plan = nil
	c.last = ""
	c.pending = ""
	c.started = false
	c.errMsg = ""
	c.epoch++
	c.logger.Info("story restarted", "epoch", c.epoch)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		ID:            c.ID,
		History:       c.history,
		Choices:       c.choices,
		LastChoice:    c.last,
		PendingChoice: c.pending,
		Started:       c.started,
		Loading:       c.inflight > 0,
		Error:         c.errMsg,
		StagePlan:     c.plan,
		Epoch:         c.epoch,
	}
	if s.History == nil {
		s.History = []string{}
	}
	if s.Choices == nil {
		s.Choices = []string{}
	}
	if c.prompt != nil {
		p := c.prompt.Clone()
		s.Prompt = &p
		s.Ended = schema.Ended(p, c.history)
	}
	return s
}

// Template returns the prompt of the last successfully started story.
func (c *Controller) Template() (schema.Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.template == nil {
		return schema.Prompt{}, false
	}
	return c.template.Clone(), true
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt != nil && schema.Ended(*c.prompt, c.history)
}

// begin marks a request as outstanding. Callers hold mu.
func (c *Controller) begin() uint64 {
	c.inflight++
	c.errMsg = ""
	return c.epoch
}

func (c *Controller) done() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
}

// current reports whether a response issued at epoch may still be applied.
// Callers hold mu.
func (c *Controller) current(epoch uint64) bool {
	if epoch == c.epoch {
		return true
	}
	c.logger.Warn("discarding stale response", "issued", epoch, "current", c.epoch)
	return false
}

func (c *Controller) fail(msg string, err error) {
	c.errMsg = msg
	c.logger.Error(msg, "error", err)
}

// apply replaces history and choices in one step.
func (c *Controller) apply(resp schema.StoryResponse) {
	history := slices.Clip(resp.History)
	choices := slices.Clip(resp.Choices)
	if history == nil {
		history = []string{}
	}
	if choices == nil {
		choices = []string{}
	}
	c.history, c.choices = history, choices
	if len(resp.StagePlan) > 0 {
		c.plan = resp.StagePlan
	}
	c.logger.Debug("story updated", "paragraphs", len(history), "choices", len(choices))
}
