package story

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"talehopper/pkg/inference"
	"talehopper/pkg/schema"
	"talehopper/pkg/utils"
)

var (
	ErrGeneration     = errors.New("story generation failed")
	ErrMissingChoice  = errors.New("story choice missing")
	ErrMissingHistory = errors.New("story history missing")
)

// Generator turns a StoryRequest into the next story step using an
// Inferencer. It satisfies session.Generator.
type Generator struct {
	Inferencer inference.Inferencer
	Logger     *log.Logger

	// Structured requests an OpenAI JSON-schema response format.
	Structured bool
	// CountTokens, when set, is used to record the prompt size.
	CountTokens func(string) (int, error)
	// Rand drives stage planning; nil uses a random seed.
	Rand *rand.Rand
}

func NewGenerator(inf inference.Inferencer, logger *log.Logger) *Generator {
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{Inferencer: inf, Logger: logger}
}

// CheckRequest rejects a history without a choice and a choice without a
// history. Both are allowed to be empty together.
func CheckRequest(req schema.StoryRequest) error {
	if len(req.History) > 0 && req.Choice == "" {
		return ErrMissingChoice
	}
	if req.Choice != "" && len(req.History) == 0 {
		return ErrMissingHistory
	}
	return nil
}

func (g *Generator) Generate(ctx context.Context, req schema.StoryRequest) (schema.StoryResponse, error) {
	p, err := schema.ValidatePrompt(req.Prompt)
	if err != nil {
		return schema.StoryResponse{}, err
	}
	if err := CheckRequest(req); err != nil {
		return schema.StoryResponse{}, err
	}

	kind := "start"
	if len(req.History) > 0 {
		kind = "continue"
	}

	plan := PlanFromStrings(req.StagePlan)
	if len(plan) == 0 {
		plan = NewPlan(p.Length, g.Rand)
	}
	step := len(req.History) + 1
	g.Logger.Debug("stage plan", "plan", plan.Strings(), "step", step, "stage", plan.StageAt(step))

	user := BuildPrompt(p, req.History, req.Choice, plan.Guidance(step))
	if g.CountTokens != nil {
		if n, err := g.CountTokens(SystemPrompt + user); err == nil {
			promptTokens.Observe(float64(n))
			g.Logger.Debug("prompt built", "tokens", n)
		}
	}

	params := &openai.ChatCompletionNewParams{MaxCompletionTokens: openai.Int(1024)}
	if g.Structured {
		params.ResponseFormat = schema.StructuredOutputsResponseFormat()
	}

	start := time.Now()
	raw, err := g.Inferencer.Infer(ctx, params, SystemPrompt, user)
	generationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		generationRequests.WithLabelValues(kind, "error").Inc()
		g.Logger.Error("story generation failed", "kind", kind, "error", err)
		return schema.StoryResponse{}, fmt.Errorf("%w: error calling LLM: %v", ErrGeneration, err)
	}
	if ok, err := g.Inferencer.Verify(ctx, raw); !ok {
		generationRequests.WithLabelValues(kind, "empty").Inc()
		return schema.StoryResponse{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	g.Logger.Debug("LLM response", "content", utils.LimitStr(raw, 200))

	parsed, err := ParseStep(raw)
	if err != nil {
		generationRequests.WithLabelValues(kind, "invalid").Inc()
		g.Logger.Warn("unparseable LLM response", "error", err, "content", utils.LimitStr(raw, 200))
		return schema.StoryResponse{}, err
	}
	generationRequests.WithLabelValues(kind, "success").Inc()

	history := append(slices.Clone(req.History), parsed.Paragraph)
	choices := parsed.Choices
	if schema.Ended(p, history) {
		choices = []string{}
	}
	g.Logger.Info("story step generated", "kind", kind, "paragraphs", len(history), "choices", len(choices))

	return schema.StoryResponse{
		History:   history,
		Choices:   choices,
		StagePlan: plan.Strings(),
	}, nil
}
