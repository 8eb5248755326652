package llmclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleClient implements ChatModel for Gemini.
type GoogleClient struct {
	apiKey    string
	modelName string
}

// NewGoogleClient builds a Gemini-backed ChatModel. An empty modelName
// defaults to Gemini 2.5 Flash.
func NewGoogleClient(apiKey, modelName string) *GoogleClient {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &GoogleClient{apiKey: apiKey, modelName: modelName}
}

func (c *GoogleClient) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if c.apiKey == "" {
		return ChatOut{}, errors.New("llmclient: google api key is required")
	}
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return ChatOut{}, fmt.Errorf("llmclient: google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(c.modelName)
	if len(tools) > 0 {
		genModel.Tools = googleTools(tools)
	}

	resp, err := genModel.GenerateContent(ctx, googleParts(messages)...)
	if err != nil {
		return ChatOut{}, fmt.Errorf("llmclient: google request: %w", err)
	}
	return googleResponse(resp), nil
}

func googleParts(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, m := range messages {
		if m.Content != "" {
			parts = append(parts, genai.Text(m.Content))
		}
	}
	return parts
}

func googleTools(tools []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  googleSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func googleSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, v := range props {
			propMap, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			prop := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				prop.Type = googleType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				prop.Description = desc
			}
			properties[key] = prop
		}
		result.Properties = properties
	}
	result.Required = stringSlice(schema["required"])
	return result
}

func googleType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func googleResponse(resp *genai.GenerateContentResponse) ChatOut {
	var out ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}
