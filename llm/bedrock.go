package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultMaxTokens = 1024

type converser interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockModel implements Model with the Bedrock Converse API.
type BedrockModel struct {
	client    converser
	modelID   string
	maxTokens int
}

// NewBedrockModel loads the default AWS credential chain for region.
func NewBedrockModel(ctx context.Context, region, modelID string, maxTokens int) (*BedrockModel, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newBedrockModel(bedrockruntime.NewFromConfig(cfg), modelID, maxTokens), nil
}

func newBedrockModel(client converser, modelID string, maxTokens int) *BedrockModel {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &BedrockModel{client: client, modelID: modelID, maxTokens: maxTokens}
}

// ID returns the Bedrock model id.
func (m *BedrockModel) ID() string { return m.modelID }

// Complete sends the request and returns the concatenated text reply.
func (m *BedrockModel) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := m.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]types.Message, 0, len(req.History)+1)
	for _, h := range req.History {
		role := types.ConversationRoleUser
		if h.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: h.Text}},
		})
	}

	content := make([]types.ContentBlock, 0, 2)
	if len(req.Image) > 0 {
		content = append(content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: types.ImageFormatPng,
				Source: &types.ImageSourceMemberBytes{Value: req.Image},
			},
		})
	}
	content = append(content, &types.ContentBlockMemberText{Value: req.Text})
	messages = append(messages, types.Message{Role: types.ConversationRoleUser, Content: content})

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(m.modelID),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(0.2),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := m.client.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to invoke Bedrock model %s: %w", m.modelID, err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected Bedrock output type %T", out.Output)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
