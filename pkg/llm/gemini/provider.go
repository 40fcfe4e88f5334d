package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cyborg-chat-be/pkg/llm"
)

const (
	ChatMessageRoleUser  = "user"
	ChatMessageRoleModel = "model"

	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"
)

type GeminiChatParts struct {
	Text string `json:"text"`
}

type GeminiChatContent struct {
	Parts []*GeminiChatParts `json:"parts"`
	Role  string             `json:"role,omitempty"`
}

type GeminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type GeminiChatRequest struct {
	SystemInstruction *GeminiChatContent      `json:"systemInstruction,omitempty"`
	Contents          []*GeminiChatContent    `json:"contents"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiChatCandidate struct {
	Content      *GeminiChatContent `json:"content"`
	FinishReason string             `json:"finishReason,omitempty"`
}

type GeminiChatResponse struct {
	Candidates []*GeminiChatCandidate `json:"candidates"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *GeminiChatResponse) text() string {
	var sb strings.Builder
	for _, c := range r.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

type GeminiProvider struct {
	apiKey   string
	baseURL  string
	model    string
	client   *http.Client
	defaults llm.Options
}

var _ llm.LLMProvider = (*GeminiProvider)(nil)

func NewGeminiProvider(apiKey, model string, timeout time.Duration, defaults ...llm.Option) *GeminiProvider {
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiProvider{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		defaults: llm.Apply(llm.Options{}, defaults...),
	}
}

// WithBaseURL points the provider at another endpoint, e.g. a test server.
func (p *GeminiProvider) WithBaseURL(baseURL string) *GeminiProvider {
	p.baseURL = strings.TrimSuffix(baseURL, "/")
	return p
}

func buildRequest(history []llm.Message, opts llm.Options) GeminiChatRequest {
	req := GeminiChatRequest{Contents: make([]*GeminiChatContent, 0, len(history))}

	var system []string
	for _, msg := range history {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
			continue
		case llm.RoleAssistant, ChatMessageRoleModel:
			req.Contents = append(req.Contents, &GeminiChatContent{
				Parts: []*GeminiChatParts{{Text: msg.Content}},
				Role:  ChatMessageRoleModel,
			})
		default:
			req.Contents = append(req.Contents, &GeminiChatContent{
				Parts: []*GeminiChatParts{{Text: msg.Content}},
				Role:  ChatMessageRoleUser,
			})
		}
	}

	if len(system) > 0 {
		req.SystemInstruction = &GeminiChatContent{
			Parts: []*GeminiChatParts{{Text: strings.Join(system, "\n\n")}},
		}
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		req.GenerationConfig = &GeminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}
	}
	return req
}

func (p *GeminiProvider) post(ctx context.Context, method string, history []llm.Message, options []llm.Option) (*http.Response, error) {
	opts := llm.Apply(p.defaults, options...)
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	payloadJson, err := json.Marshal(buildRequest(history, opts))
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payloadJson))
	if err != nil {
		return nil, err
	}

	req.Header.Set("x-goog-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		resBody, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf(
			"status error, got status %d. with response body %s",
			res.StatusCode,
			string(resBody),
		)
	}
	return res, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	res, err := p.post(ctx, "generateContent", history, options)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var geminiRes GeminiChatResponse
	if err := json.NewDecoder(res.Body).Decode(&geminiRes); err != nil {
		return "", err
	}
	if geminiRes.Error != nil {
		return "", fmt.Errorf("gemini error: %s", geminiRes.Error.Message)
	}
	if len(geminiRes.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	return geminiRes.text(), nil
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, options...)
}

var errStopped = errors.New("consumer stopped")

// Stream uses streamGenerateContent with alt=sse; every frame carries a
// partial candidate.
func (p *GeminiProvider) Stream(ctx context.Context, history []llm.Message, options ...llm.Option) (<-chan llm.StreamChunk, error) {
	res, err := p.post(ctx, "streamGenerateContent?alt=sse", history, options)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer res.Body.Close()

		err := llm.ScanSSE(res.Body, func(data []byte) (bool, error) {
			var part GeminiChatResponse
			if err := json.Unmarshal(data, &part); err != nil {
				return false, fmt.Errorf("decode stream frame: %w", err)
			}
			if part.Error != nil {
				return false, fmt.Errorf("gemini error: %s", part.Error.Message)
			}
			if text := part.text(); text != "" {
				if !llm.Send(ctx, out, llm.StreamChunk{Content: text}) {
					return false, errStopped
				}
			}
			return false, nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			llm.Send(ctx, out, llm.StreamChunk{Err: err})
		}
	}()

	return out, nil
}
