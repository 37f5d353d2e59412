package decision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when the configuration names none.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic Messages backend.
type AnthropicConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Sampling Sampling
}

// AnthropicModel calls the Messages API.
type AnthropicModel struct {
	client   anthropic.Client
	model    string
	sampling Sampling
}

// NewAnthropicModel builds the backend. The API key is required.
func NewAnthropicModel(cfg AnthropicConfig) (*AnthropicModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.Sampling == (Sampling{}) {
		cfg.Sampling = DefaultSampling()
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicModel{
		client:   anthropic.NewClient(options...),
		model:    cfg.Model,
		sampling: cfg.Sampling,
	}, nil
}

// Name returns "anthropic/<model>".
func (m *AnthropicModel) Name() string {
	return "anthropic/" + m.model
}

// Complete sends the prompt as a single user message.
func (m *AnthropicModel) Complete(ctx context.Context, p Prompt) (string, error) {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(p.User)}
	for _, img := range p.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(img)))
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.model),
		MaxTokens:   int64(m.sampling.MaxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(m.sampling.Temperature),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
