package decision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIBaseURL points at a local OpenAI-compatible server.
const DefaultOpenAIBaseURL = "http://localhost:1234/v1"

// DefaultOpenAIModel is the small vision model served locally by default.
const DefaultOpenAIModel = "qwen3-vl-2b-instruct-1m"

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Sampling Sampling

	// Timeout bounds one HTTP request.
	Timeout time.Duration
}

// OpenAIModel talks to any server speaking the chat completions API,
// including local ones such as LM Studio.
type OpenAIModel struct {
	client   *openai.Client
	model    string
	sampling Sampling
}

// NewOpenAIModel builds the backend. An empty key is allowed for local
// servers.
func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Sampling == (Sampling{}) {
		cfg.Sampling = DefaultSampling()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIModel{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		sampling: cfg.Sampling,
	}
}

// Name returns "openai/<model>".
func (m *OpenAIModel) Name() string {
	return "openai/" + m.model
}

// Complete sends one system + user turn, attaching images as data URLs.
func (m *OpenAIModel) Complete(ctx context.Context, p Prompt) (string, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(p.Images) == 0 {
		user.Content = p.User
	} else {
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: p.User}}
		for _, img := range p.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
		user.MultiContent = parts
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, user)

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: float32(m.sampling.Temperature),
		TopP:        float32(m.sampling.TopP),
		MaxTokens:   m.sampling.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
