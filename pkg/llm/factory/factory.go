package factory

import (
	"fmt"
	"time"

	"cyborg-chat-be/pkg/llm"
	"cyborg-chat-be/pkg/llm/gemini"
	"cyborg-chat-be/pkg/llm/huggingface"
	"cyborg-chat-be/pkg/llm/ollama"
)

type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

func NewLLMProvider(cfg Config) (llm.LLMProvider, error) {
	defaults := []llm.Option{
		llm.WithTemperature(cfg.Temperature),
		llm.WithMaxTokens(cfg.MaxTokens),
	}

	switch cfg.Provider {
	case "ollama", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(baseURL, cfg.Model, cfg.Timeout, defaults...), nil
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, defaults...), nil
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, baseURL, cfg.Model, cfg.Timeout, defaults...), nil
	case "gemini":
		p := gemini.NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.Timeout, defaults...)
		if cfg.BaseURL != "" {
			p.WithBaseURL(cfg.BaseURL)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
