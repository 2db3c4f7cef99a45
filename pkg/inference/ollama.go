package inference

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// OllamaInferencer talks to a local Ollama server through its native
// /api/generate endpoint.
type OllamaInferencer struct {
	client  *api.Client
	model   string
	timeout time.Duration
}

func NewOllamaInferencer(baseURL, model string, timeout time.Duration) (*OllamaInferencer, error) {
	baseURL = cmp.Or(baseURL, "http://localhost:11434")
	// api.NewClient wants the server root, without the OpenAI-compatible suffix
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/api/generate")

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", baseURL, err)
	}
	timeout = cmp.Or(timeout, 60*time.Second)
	return &OllamaInferencer{
		client:  api.NewClient(u, &http.Client{Timeout: timeout}),
		model:   cmp.Or(model, "llama3.2"),
		timeout: timeout,
	}, nil
}

func (o *OllamaInferencer) Model() string {
	return o.model
}

func (o *OllamaInferencer) Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error) {
	if params == nil {
		params = new(openai.ChatCompletionNewParams)
	}
	stream := false
	req := &api.GenerateRequest{
		Model:  cmp.Or(params.Model, o.model),
		System: system,
		Prompt: user,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": cmp.Or(params.Temperature.Value, 0.8),
			"num_predict": cmp.Or(params.MaxCompletionTokens.Value, 1024),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var out strings.Builder
	err := o.client.Generate(ctx, req, func(r api.GenerateResponse) error {
		out.WriteString(r.Response)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("ollama timed out after %v: %w", o.timeout, err)
		}
		return "", fmt.Errorf("ollama inference error: %w", err)
	}
	if out.Len() == 0 {
		return "", errors.New("empty completion content")
	}
	return out.String(), nil
}

func (o *OllamaInferencer) Verify(ctx context.Context, result string) (bool, error) {
	return verify(result)
}
