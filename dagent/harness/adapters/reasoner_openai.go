package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	ports "github.com/ZanzyTHEbar/deck-agent/dagent/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider port with the chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

// NewOpenAIProvider builds a provider. An empty baseURL keeps the public endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string, logger zerolog.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With().Str("component", "reasoner_openai").Logger(),
	}, nil
}

// Complete issues one non-streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(in),
		Stop:     opts.Stop,
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxNewTokens > 0 {
		req.MaxCompletionTokens = opts.MaxNewTokens
	}
	if len(in.Tools) > 0 {
		req.Tools = toOpenAITools(in.Tools)
		switch opts.ToolChoice {
		case "", "auto":
			req.ToolChoice = "auto"
		case "none":
			req.ToolChoice = "none"
		default:
			req.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: opts.ToolChoice},
			}
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ports.Completion{}, errors.New("chat completion returned no choices")
	}

	msg := resp.Choices[0].Message
	out := ports.Completion{
		Text: msg.Content,
		Raw:  resp,
		Usage: &ports.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
			ID:   id,
			Name: tc.Function.Name,
			Args: conversation.RawArguments(tc.Function.Arguments),
		})
	}

	p.logger.Debug().
		Str("model", model).
		Int("tool_calls", len(out.ToolCalls)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("completion received")
	return out, nil
}

func toOpenAIMessages(in ports.PromptInput) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in.Messages)+1)
	if in.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: in.System})
	}
	for _, m := range in.Messages {
		msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		switch m.Role {
		case openai.ChatMessageRoleAssistant:
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
		case openai.ChatMessageRoleTool:
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(specs []ports.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var params map[string]any
		if err := json.Unmarshal(spec.JSONSchema, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

var _ ports.Provider = (*OpenAIProvider)(nil)
