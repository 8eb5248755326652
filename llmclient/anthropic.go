package llmclient

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements ChatModel for Claude, extracting the system
// prompt into Anthropic's separate system parameter.
type AnthropicClient struct {
	apiKey    string
	modelName string
}

// NewAnthropicClient builds a Claude-backed ChatModel. An empty modelName
// defaults to Claude Sonnet.
func NewAnthropicClient(apiKey, modelName string) *AnthropicClient {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicClient{apiKey: apiKey, modelName: modelName}
}

func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if c.apiKey == "" {
		return ChatOut{}, errors.New("llmclient: anthropic api key is required")
	}
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))
	systemPrompt, conversation := extractSystemPrompt(messages)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  anthropicMessages(conversation),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = anthropicTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return ChatOut{}, fmt.Errorf("llmclient: anthropic request: %w", err)
	}
	return anthropicResponse(resp), nil
}

func extractSystemPrompt(messages []Message) (string, []Message) {
	var system string
	var rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func anthropicMessages(messages []Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, len(messages))
	for i, m := range messages {
		switch m.Role {
		case RoleAssistant:
			out[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content))
		default:
			out[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content))
		}
	}
	return out
}

func anthropicTools(tools []ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			properties = t.Schema["properties"]
			required = stringSlice(t.Schema["required"])
		}
		out[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return out
}

func anthropicResponse(resp *anthropicsdk.Message) ChatOut {
	var out ChatOut
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: b.Name, Input: toolInput(b.Input)})
		}
	}
	return out
}

func toolInput(input interface{}) map[string]interface{} {
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	if input == nil {
		return nil
	}
	return map[string]interface{}{"_raw": input}
}

func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
