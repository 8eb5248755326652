// Package llmclient wraps provider chat SDKs behind one interface and
// audits every call: each invocation, successful or not, produces exactly
// one Call row through a Recorder before returning to the caller.
package llmclient

import "context"

// ChatModel is the provider-agnostic chat interface every adapter in this
// package implements, and the interface a plugin type-asserts
// plugin.Context.LLMClient to.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is one turn in a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard roles, shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is a model's response: text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

func messagesToMap(messages []Message) []interface{} {
	out := make([]interface{}, len(messages))
	for i, m := range messages {
		out[i] = map[string]interface{}{"role": m.Role, "content": m.Content}
	}
	return out
}

func toolsToMap(tools []ToolSpec) []interface{} {
	out := make([]interface{}, len(tools))
	for i, t := range tools {
		out[i] = map[string]interface{}{"name": t.Name, "description": t.Description, "schema": t.Schema}
	}
	return out
}

func outToMap(out ChatOut) map[string]interface{} {
	calls := make([]interface{}, len(out.ToolCalls))
	for i, c := range out.ToolCalls {
		calls[i] = map[string]interface{}{"name": c.Name, "input": c.Input}
	}
	return map[string]interface{}{"text": out.Text, "tool_calls": calls}
}
