package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultGuardrailVersion = "DRAFT"

// GuardrailAPI is the subset of the Bedrock runtime client used here.
type GuardrailAPI interface {
	ApplyGuardrail(ctx context.Context, params *bedrockruntime.ApplyGuardrailInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error)
}

// BedrockGuardrail evaluates text as guardrail INPUT and flags it when the
// guardrail intervened with a blocked PROMPT_ATTACK content filter.
type BedrockGuardrail struct {
	client  GuardrailAPI
	id      string
	version string
}

// NewBedrockGuardrail builds a detector for a guardrail id and version.
// An empty version selects the working draft.
func NewBedrockGuardrail(client GuardrailAPI, id, version string) *BedrockGuardrail {
	version = strings.TrimSpace(version)
	if version == "" {
		version = defaultGuardrailVersion
	}
	return &BedrockGuardrail{client: client, id: strings.TrimSpace(id), version: version}
}

func (b *BedrockGuardrail) Name() string { return "aws-bedrock-guardrails" }

func (b *BedrockGuardrail) Detect(ctx context.Context, text string) (bool, error) {
	out, err := b.client.ApplyGuardrail(ctx, &bedrockruntime.ApplyGuardrailInput{
		GuardrailIdentifier: aws.String(b.id),
		GuardrailVersion:    aws.String(b.version),
		Source:              types.GuardrailContentSourceInput,
		Content: []types.GuardrailContentBlock{
			&types.GuardrailContentBlockMemberText{Value: types.GuardrailTextBlock{Text: aws.String(text)}},
		},
	})
	if err != nil {
		return false, fmt.Errorf("apply guardrail: %w", err)
	}
	if out.Action != types.GuardrailActionGuardrailIntervened {
		return false, nil
	}
	for _, assessment := range out.Assessments {
		if assessment.ContentPolicy == nil {
			continue
		}
		for _, f := range assessment.ContentPolicy.Filters {
			if string(f.Type) == "PROMPT_ATTACK" && string(f.Action) == "BLOCKED" {
				return true, nil
			}
		}
	}
	return false, nil
}
