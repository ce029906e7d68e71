package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ConverseAPI is the subset of the Bedrock runtime client used for completions.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGenerator calls the Bedrock Converse API with a fixed model id.
type BedrockGenerator struct {
	client      ConverseAPI
	modelID     string
	temperature *float64
}

// NewBedrockGenerator builds a Bedrock-based TextGenerator.
func NewBedrockGenerator(client ConverseAPI, modelID string, temperature *float64) *BedrockGenerator {
	return &BedrockGenerator{client: client, modelID: strings.TrimSpace(modelID), temperature: temperature}
}

// GenerateText implements TextGenerator using Converse.
func (g *BedrockGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (Completion, error) {
	if g.modelID == "" {
		return Completion{}, fmt.Errorf("bedrock model id required")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(g.modelID),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: userPrompt}},
			},
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}
	if g.temperature != nil {
		input.InferenceConfig = &types.InferenceConfiguration{Temperature: aws.Float32(float32(*g.temperature))}
	}

	out, err := g.client.Converse(ctx, input)
	if err != nil {
		return Completion{}, fmt.Errorf("bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Completion{}, fmt.Errorf("bedrock: %w", ErrEmptyCompletion)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	result := Completion{Text: sb.String()}
	if out.Usage != nil {
		result.Usage = &Usage{
			InputTokens:  int64(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int64(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return result, nil
}
