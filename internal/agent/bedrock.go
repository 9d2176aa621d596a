package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/hackgods/clinic-appointment-agent/internal/tools"
)

// ConverseAPI is the part of the Bedrock runtime client the decision-maker
// uses.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type BedrockConfig struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
}

// BedrockDecisionMaker asks a Bedrock-hosted model for the next step
// through the Converse API, offering the action catalog as tools.
type BedrockDecisionMaker struct {
	api ConverseAPI
	cfg BedrockConfig
}

func NewBedrockDecisionMaker(api ConverseAPI, cfg BedrockConfig) *BedrockDecisionMaker {
	if api == nil {
		panic("agent: bedrock converse client cannot be nil")
	}
	return &BedrockDecisionMaker{api: api, cfg: cfg}
}

func (b *BedrockDecisionMaker) Decide(ctx context.Context, in DecisionInput) (Decision, error) {
	if strings.TrimSpace(b.cfg.ModelID) == "" {
		return Decision{}, errors.New("agent: bedrock model id is required")
	}

	messages, err := toBedrockMessages(in.Turns)
	if err != nil {
		return Decision{}, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.cfg.ModelID),
		Messages: messages,
	}
	if strings.TrimSpace(in.System) != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: in.System}}
	}
	if len(in.Catalog) > 0 {
		input.ToolConfig = toolConfig(in.Catalog)
	}

	inference := &brtypes.InferenceConfiguration{}
	if b.cfg.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(b.cfg.MaxTokens)
	}
	if b.cfg.Temperature >= 0 {
		inference.Temperature = aws.Float32(b.cfg.Temperature)
	}
	input.InferenceConfig = inference

	out, err := b.api.Converse(ctx, input)
	if err != nil {
		return Decision{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return fromBedrockOutput(out)
}

func toolConfig(catalog []tools.Spec) *brtypes.ToolConfiguration {
	specs := make([]brtypes.Tool, 0, len(catalog))
	for _, s := range catalog {
		specs = append(specs, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(s.Name),
			Description: aws.String(s.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(s.Schema)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

func toBedrockMessages(turns []Turn) ([]brtypes.Message, error) {
	messages := make([]brtypes.Message, 0, len(turns))
	for _, t := range turns {
		var content []brtypes.ContentBlock

		if text := strings.TrimSpace(t.Text); text != "" {
			content = append(content, &brtypes.ContentBlockMemberText{Value: text})
		}

		for _, r := range t.Requests {
			params := map[string]any{}
			if len(r.Params) > 0 {
				if err := json.Unmarshal(r.Params, &params); err != nil {
					return nil, fmt.Errorf("agent: decode params of %s: %w", r.Name, err)
				}
			}
			content = append(content, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(r.ID),
				Name:      aws.String(r.Name),
				Input:     document.NewLazyDocument(params),
			}})
		}

		for _, r := range t.Results {
			body, err := json.Marshal(r.Result)
			if err != nil {
				return nil, fmt.Errorf("agent: encode result of %s: %w", r.Name, err)
			}
			status := brtypes.ToolResultStatusSuccess
			if !r.Result.Success {
				status = brtypes.ToolResultStatusError
			}
			content = append(content, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(r.RequestID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: string(body)}},
				Status:    status,
			}})
		}

		if len(content) == 0 {
			continue
		}

		role := brtypes.ConversationRoleUser
		if t.Role == RoleAgent {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{Role: role, Content: content})
	}
	return messages, nil
}

func fromBedrockOutput(out *bedrockruntime.ConverseOutput) (Decision, error) {
	if out == nil || out.Output == nil {
		return Decision{}, errors.New("agent: empty bedrock response")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Decision{}, errors.New("agent: unexpected bedrock output type")
	}

	var texts []string
	var actions []ActionRequest
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if s := strings.TrimSpace(v.Value); s != "" {
				texts = append(texts, s)
			}
		case *brtypes.ContentBlockMemberToolUse:
			params := json.RawMessage(`{}`)
			if v.Value.Input != nil {
				raw, err := v.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return Decision{}, fmt.Errorf("agent: decode tool input: %w", err)
				}
				params = raw
			}
			actions = append(actions, ActionRequest{
				ID:     aws.ToString(v.Value.ToolUseId),
				Name:   aws.ToString(v.Value.Name),
				Params: params,
			})
		}
	}

	d := Decision{Text: strings.Join(texts, "\n")}
	switch out.StopReason {
	case brtypes.StopReasonEndTurn:
		d.Kind = DecisionFinal
	case brtypes.StopReasonToolUse:
		d.Kind = DecisionActionRequest
		d.Actions = actions
	default:
		d.Kind = DecisionOther
	}
	return d, nil
}
