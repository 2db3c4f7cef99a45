// Package config loads the server settings from the environment.
package config

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kelseyhightower/envconfig"

	"talehopper/pkg/feedback"
	"talehopper/pkg/inference"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// CORSOrigins is a comma separated list; "*" allows any origin.
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"*"`

	LLMMethod    string        `envconfig:"LLM_METHOD" default:"groq"`
	LLMAPIURL    string        `envconfig:"LLM_API_URL"`
	LLMAPIKey    string        `envconfig:"LLM_API_KEY"`
	LLMModel     string        `envconfig:"LLM_MODEL"`
	GeminiAPIKey string        `envconfig:"GEMINI_API_KEY"`
	OllamaURL    string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	LLMTimeout   time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	Structured   bool          `envconfig:"LLM_STRUCTURED_OUTPUT" default:"false"`
	TokenModel   string        `envconfig:"TOKEN_MODEL"`

	SessionTTL  time.Duration `envconfig:"SESSION_TTL" default:"2h"`
	MaxSessions int           `envconfig:"MAX_SESSIONS" default:"1000"`

	FeedbackEmailTo   string `envconfig:"FEEDBACK_EMAIL_TO"`
	FeedbackEmailFrom string `envconfig:"FEEDBACK_EMAIL_FROM"`
	SMTPHost          string `envconfig:"SMTP_HOST"`
	SMTPPort          int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername      string `envconfig:"SMTP_USERNAME"`
	SMTPPassword      string `envconfig:"SMTP_PASSWORD"`
	FeedbackQueueSize int    `envconfig:"FEEDBACK_QUEUE_SIZE" default:"100"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) check() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %v", c.SessionTTL)
	}
	if c.FeedbackQueueSize <= 0 {
		return fmt.Errorf("FEEDBACK_QUEUE_SIZE must be positive, got %d", c.FeedbackQueueSize)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the parsed log level, info when it cannot be parsed.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Inference maps the LLM settings onto backend options. Gemini takes its own
// key when set and Ollama its own URL.
func (c *Config) Inference() inference.Options {
	opts := inference.Options{
		Method:  strings.ToLower(strings.TrimSpace(c.LLMMethod)),
		BaseURL: c.LLMAPIURL,
		APIKey:  c.LLMAPIKey,
		Model:   c.LLMModel,
		Timeout: c.LLMTimeout,
	}
	switch opts.Method {
	case "gemini":
		opts.APIKey = cmp.Or(c.GeminiAPIKey, c.LLMAPIKey)
	case "ollama":
		opts.BaseURL = cmp.Or(c.LLMAPIURL, c.OllamaURL)
	}
	return opts
}

func (c *Config) SMTP() feedback.SMTPConfig {
	return feedback.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.FeedbackEmailFrom,
		To:       c.FeedbackEmailTo,
	}
}

func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
