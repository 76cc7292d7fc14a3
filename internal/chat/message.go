package chat

import "encoding/json"

// Message is one entry in the conversation sent to the model endpoint. The
// endpoint is stateless, so the full message list is resent on every turn
// and ordering is significant. Content is a pointer so the assistant
// message carrying tool_calls can serialize content as null.
type Message struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a completed function-invocation request from the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func textMessage(role, content string) Message {
	return Message{Role: role, Content: &content}
}

func toolMessage(callID, content string) Message {
	return Message{Role: "tool", Content: &content, ToolCallID: callID}
}

// assistantToolCalls builds the assistant message that must immediately
// precede its tool-result messages in the resent history.
func assistantToolCalls(calls []ToolCall) Message {
	return Message{Role: "assistant", Content: nil, ToolCalls: calls}
}

// webSearchTool is the single tool advertised to the model.
var webSearchTool = json.RawMessage(`[{
	"type": "function",
	"function": {
		"name": "web_search",
		"description": "Search the web for current information and browse the top result. Use this to verify claims, find sources, and check recent events. The tool returns search results plus the extracted text of the best-matching page.",
		"parameters": {
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}
	}
}]`)
