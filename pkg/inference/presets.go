package inference

import "cmp"

type preset struct {
	BaseURL string
	Model   string
}

// Presets lists OpenAI-compatible providers by name.
var Presets = map[string]preset{
	"groq":     {BaseURL: "https://api.groq.com/openai/v1", Model: "meta-llama/llama-4-maverick-17b-128e-instruct"},
	"moonshot": {BaseURL: "https://api.moonshot.ai/v1", Model: "kimi-k2-5"},
	"kimi":     {BaseURL: "https://api.kimi.com/coding/v1", Model: "kimi-for-coding"},
	"xai":      {BaseURL: "https://api.x.ai/v1", Model: "grok-4-fast-reasoning"},
}

// NewCompatibleInferencer returns an OpenAIInferencer pointed at a preset
// provider. Unknown names fall back to the OpenAI endpoint.
func NewCompatibleInferencer(name, apiKey, model string) *OpenAIInferencer {
	p := Presets[name]
	inf := NewOpenAIInferencer(apiKey, cmp.Or(model, p.Model))
	if p.BaseURL != "" {
		inf.ChangeBaseURL(p.BaseURL)
		inf.name = name
	}
	return inf
}
