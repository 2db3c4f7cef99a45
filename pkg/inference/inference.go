package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
)

// Inferencer runs a single system+user completion against a model.
type Inferencer interface {
	Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error)
	Verify(ctx context.Context, result string) (bool, error)
}

var ErrEmptyResult = errors.New("empty result")

// Options selects and configures a backend. Method is one of "openai",
// "gemini", "ollama" or a preset name from Presets.
type Options struct {
	Method  string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New builds the Inferencer named by opts.Method.
func New(ctx context.Context, opts Options) (Inferencer, error) {
	method := strings.ToLower(strings.TrimSpace(opts.Method))
	switch method {
	case "openai", "":
		inf := NewOpenAIInferencer(opts.APIKey, opts.Model)
		if opts.BaseURL != "" {
			inf.ChangeBaseURL(opts.BaseURL)
		}
		return inf, nil
	case "gemini":
		return NewGeminiInferencer(ctx, opts.APIKey, opts.Model)
	case "ollama":
		return NewOllamaInferencer(opts.BaseURL, opts.Model, opts.Timeout)
	}
	if _, ok := Presets[method]; ok {
		inf := NewCompatibleInferencer(method, opts.APIKey, opts.Model)
		if opts.BaseURL != "" {
			inf.ChangeBaseURL(opts.BaseURL)
		}
		return inf, nil
	}
	return nil, fmt.Errorf("unsupported LLM method: %q", opts.Method)
}

func verify(result string) (bool, error) {
	if strings.TrimSpace(result) == "" {
		return false, ErrEmptyResult
	}
	return true, nil
}
