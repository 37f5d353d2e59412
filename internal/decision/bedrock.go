package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// DefaultBedrockModel is used when the configuration names none.
const DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// BedrockConfig configures the Bedrock Converse backend. Static credentials
// are optional; the default AWS credential chain is used otherwise.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	Sampling        Sampling
}

type converser interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockModel calls the Bedrock Converse API.
type BedrockModel struct {
	client   converser
	model    string
	sampling Sampling
}

// NewBedrockModel loads AWS configuration and builds the backend.
func NewBedrockModel(ctx context.Context, cfg BedrockConfig) (*BedrockModel, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return newBedrockModel(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrockModel(client converser, cfg BedrockConfig) *BedrockModel {
	if cfg.Model == "" {
		cfg.Model = DefaultBedrockModel
	}
	if cfg.Sampling == (Sampling{}) {
		cfg.Sampling = DefaultSampling()
	}
	return &BedrockModel{client: client, model: cfg.Model, sampling: cfg.Sampling}
}

// Name returns "bedrock/<model>".
func (m *BedrockModel) Name() string {
	return "bedrock/" + m.model
}

// Complete sends one user message with the frames as PNG image blocks.
func (m *BedrockModel) Complete(ctx context.Context, p Prompt) (string, error) {
	content := []types.ContentBlock{&types.ContentBlockMemberText{Value: p.User}}
	for _, img := range p.Images {
		content = append(content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: types.ImageFormatPng,
				Source: &types.ImageSourceMemberBytes{Value: img},
			},
		})
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(m.model),
		Messages: []types.Message{{Role: types.ConversationRoleUser, Content: content}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(m.sampling.MaxTokens)),
			Temperature: aws.Float32(float32(m.sampling.Temperature)),
			TopP:        aws.Float32(float32(m.sampling.TopP)),
		},
	}
	if p.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: p.System}}
	}

	out, err := m.client.Converse(ctx, in)
	if err != nil {
		return "", fmt.Errorf("bedrock: %w", err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("bedrock: response carries no message")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String(), nil
}
