package llmclient

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient implements ChatModel for OpenAI's chat completions API.
type OpenAIClient struct {
	apiKey    string
	modelName string
}

// NewOpenAIClient builds an OpenAI-backed ChatModel. An empty modelName
// defaults to GPT-4o.
func NewOpenAIClient(apiKey, modelName string) *OpenAIClient {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &OpenAIClient{apiKey: apiKey, modelName: modelName}
}

func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if c.apiKey == "" {
		return ChatOut{}, errors.New("llmclient: openai api key is required")
	}
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: openaiMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = openaiTools(tools)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatOut{}, fmt.Errorf("llmclient: openai request: %w", err)
	}
	return openaiResponse(resp), nil
}

func openaiMessages(messages []Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, m := range messages {
		switch m.Role {
		case RoleSystem:
			out[i] = openaisdk.SystemMessage(m.Content)
		case RoleAssistant:
			out[i] = openaisdk.AssistantMessage(m.Content)
		default:
			out[i] = openaisdk.UserMessage(m.Content)
		}
	}
	return out
}

func openaiTools(tools []ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return out
}

func openaiResponse(resp *openaisdk.ChatCompletion) ChatOut {
	var out ChatOut
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:  tc.Function.Name,
			Input: map[string]interface{}{"_raw": tc.Function.Arguments},
		})
	}
	return out
}
