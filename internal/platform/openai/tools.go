package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ToolDef declares one capability the model may invoke during a conversation.
type ToolDef struct {
	Name        string
	Description string
	// JSON schema for the arguments object.
	Parameters map[string]any
}

// ToolCall is one capability invocation emitted by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ToolDispatch executes one capability invocation and returns a
// JSON-serializable result that is fed back into the conversation.
type ToolDispatch func(ctx context.Context, call ToolCall) (any, error)

// ToolConversation describes one bounded tool-calling exchange.
type ToolConversation struct {
	System   string
	User     string
	Images   []ImageInput
	Tools    []ToolDef
	MaxTurns int
	Dispatch ToolDispatch
}

// ToolResult is the typed outcome of a tool conversation: either the model
// closed with plain text, after zero or more dispatched capability calls.
type ToolResult struct {
	FinalText string
	Calls     []ToolCall
	Turns     int
}

// ErrMaxTurns reports that the model kept invoking capabilities past the
// conversation's turn budget.
var ErrMaxTurns = errors.New("tool conversation exceeded max turns")

type toolConversationRequest struct {
	Model              string           `json:"model"`
	Input              []map[string]any `json:"input"`
	Tools              []map[string]any `json:"tools,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
}

type toolConversationResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Type      string `json:"type"`
		Role      string `json:"role,omitempty"`
		Name      string `json:"name,omitempty"`
		CallID    string `json:"call_id,omitempty"`
		Arguments string `json:"arguments,omitempty"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func (c *client) RunToolConversation(ctx context.Context, conv ToolConversation) (ToolResult, error) {
	var result ToolResult
	if strings.TrimSpace(conv.User) == "" {
		return result, errors.New("user prompt required")
	}
	maxTurns := conv.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}

	tools := make([]map[string]any, 0, len(conv.Tools))
	for _, t := range conv.Tools {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
			"strict":      false,
		})
	}

	input := buildInitialInput(conv)
	previousID := ""

	for turn := 0; turn < maxTurns; turn++ {
		result.Turns = turn + 1

		req := toolConversationRequest{
			Model:              c.model,
			Input:              input,
			Tools:              tools,
			PreviousResponseID: previousID,
		}
		var resp toolConversationResponse
		if err := c.do(ctx, "POST", "/v1/responses", req, &resp); err != nil {
			return result, err
		}
		if resp.Refusal != "" {
			return result, fmt.Errorf("model refused: %s", resp.Refusal)
		}

		calls, text := splitOutput(resp)
		result.FinalText = text

		if len(calls) == 0 {
			return result, nil
		}
		if conv.Dispatch == nil {
			return result, fmt.Errorf("model invoked %q but no dispatcher is configured", calls[0].Name)
		}

		// Execute every capability call from this turn and feed the results
		// back so the model can finish.
		outputs := make([]map[string]any, 0, len(calls))
		for _, call := range calls {
			result.Calls = append(result.Calls, call)
			callOut, dispatchErr := conv.Dispatch(ctx, call)
			payload := map[string]any{"result": callOut}
			if dispatchErr != nil {
				payload = map[string]any{"error": dispatchErr.Error()}
			}
			encoded, _ := json.Marshal(payload)
			outputs = append(outputs, map[string]any{
				"type":    "function_call_output",
				"call_id": call.CallID,
				"output":  string(encoded),
			})
		}

		previousID = resp.ID
		input = outputs
	}

	return result, ErrMaxTurns
}

func buildInitialInput(conv ToolConversation) []map[string]any {
	input := make([]map[string]any, 0, 2)
	if strings.TrimSpace(conv.System) != "" {
		input = append(input, map[string]any{"role": "system", "content": conv.System})
	}

	content := make([]map[string]any, 0, 1+len(conv.Images))
	content = append(content, map[string]any{"type": "input_text", "text": conv.User})
	for _, img := range conv.Images {
		u := strings.TrimSpace(img.ImageURL)
		if u == "" {
			continue
		}
		item := map[string]any{"type": "input_image", "image_url": u}
		if strings.TrimSpace(img.Detail) != "" {
			item["detail"] = strings.TrimSpace(img.Detail)
		}
		content = append(content, item)
	}

	if len(content) == 1 {
		input = append(input, map[string]any{"role": "user", "content": conv.User})
	} else {
		input = append(input, map[string]any{"role": "user", "content": content})
	}
	return input
}

func splitOutput(resp toolConversationResponse) ([]ToolCall, string) {
	var calls []ToolCall
	var text strings.Builder
	for _, item := range resp.Output {
		switch item.Type {
		case "function_call":
			calls = append(calls, ToolCall{
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: json.RawMessage(item.Arguments),
			})
		case "message":
			if item.Role != "assistant" {
				continue
			}
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					text.WriteString(c.Text)
				}
			}
		}
	}
	return calls, text.String()
}
