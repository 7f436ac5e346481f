// update.go maps ACP session/update notifications to chunk payloads.
//
// Notifications arrive as a two-level envelope:
//
//	outer: {"sessionId":"...", "update": <inner>}
//	inner: {"sessionUpdate":"agent_message_chunk", "content":{...}}
//
// parseSessionUpdate dispatches on the inner discriminator through
// updateParsers. Adding an update type is one map entry and one function.
package acp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/engine/internal/errfmt"
)

// updateParser converts an inner update to a payload. nil means the update
// is consumed without being relayed.
type updateParser func(update json.RawMessage) *agentbridge.ChunkPayload

var updateParsers = map[string]updateParser{
	"agent_message_chunk":       contentChunkParser(agentbridge.ChunkText),
	"agent_thought_chunk":       contentChunkParser(agentbridge.ChunkThought),
	"user_message_chunk":        ignoreUpdate,
	"tool_call":                 parseToolCall,
	"tool_call_update":          parseToolCallUpdate,
	"plan":                      parsePlan,
	"current_mode_update":       parseCurrentModeUpdate,
	"session_info_update":       parseSessionInfoUpdate,
	"usage_update":              ignoreUpdate,
	"available_commands_update": ignoreUpdate,
	"config_option_update":      ignoreUpdate,
}

// parseSessionUpdate maps one inner update. Unknown discriminators become
// system chunks naming the update type.
func parseSessionUpdate(update json.RawMessage) *agentbridge.ChunkPayload {
	var header sessionUpdateHeader
	if len(update) > 0 {
		if err := json.Unmarshal(update, &header); err != nil {
			return errorChunk(fmt.Sprintf("acp: unmarshal session update: %v", err))
		}
	}
	if header.SessionUpdate == "" {
		return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkSystem, Chunk: "unknown"}
	}
	if parse, ok := updateParsers[header.SessionUpdate]; ok {
		return parse(update)
	}
	return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkSystem, Chunk: header.SessionUpdate}
}

func errorChunk(msg string) *agentbridge.ChunkPayload {
	return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkError, Chunk: errfmt.Truncate(msg)}
}

func unmarshalError(updateType string, err error) *agentbridge.ChunkPayload {
	return errorChunk(fmt.Sprintf("acp: unmarshal %s: %v", updateType, err))
}

func ignoreUpdate(json.RawMessage) *agentbridge.ChunkPayload { return nil }

// contentChunkParser relays the text of a content chunk. Non-text content
// (images, resources) is not relayed.
func contentChunkParser(kind agentbridge.ChunkKind) updateParser {
	return func(update json.RawMessage) *agentbridge.ChunkPayload {
		var d struct {
			Content struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(update, &d); err != nil {
			return unmarshalError(string(kind)+"_chunk", err)
		}
		if d.Content.Type != "text" || d.Content.Text == "" {
			return nil
		}
		return &agentbridge.ChunkPayload{Kind: kind, Chunk: d.Content.Text}
	}
}

func toolFromUpdate(d toolCallUpdate) *agentbridge.ToolCall {
	return &agentbridge.ToolCall{
		ID:     d.ToolCallID,
		Title:  d.Title,
		Kind:   d.Kind,
		Status: d.Status,
		Input:  d.RawInput,
	}
}

func parseToolCall(update json.RawMessage) *agentbridge.ChunkPayload {
	var d toolCallUpdate
	if err := json.Unmarshal(update, &d); err != nil {
		return unmarshalError("tool_call", err)
	}
	return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkToolCall, Chunk: d.Title, Tool: toolFromUpdate(d)}
}

func parseToolCallUpdate(update json.RawMessage) *agentbridge.ChunkPayload {
	var d toolCallUpdate
	if err := json.Unmarshal(update, &d); err != nil {
		return unmarshalError("tool_call_update", err)
	}
	tool := toolFromUpdate(d)
	switch d.Status {
	case "completed":
		tool.Output = extractToolOutput(d)
		return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkToolUpdate, Chunk: d.Title, Tool: tool}
	case "failed":
		return &agentbridge.ChunkPayload{
			Kind:  agentbridge.ChunkError,
			Chunk: errfmt.Truncate("tool call failed: " + d.Title),
			Tool:  tool,
		}
	default: // pending, in_progress
		return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkToolUpdate, Chunk: d.Title, Tool: tool}
	}
}

// extractToolOutput prefers the first text content block over rawOutput.
func extractToolOutput(d toolCallUpdate) json.RawMessage {
	if text := extractContentText(d.Content); text != "" {
		b, _ := json.Marshal(text)
		return b
	}
	if len(d.RawOutput) > 0 {
		return d.RawOutput
	}
	return nil
}

func extractContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var blocks []struct {
		Content struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Content.Text != "" {
			return b.Content.Text
		}
	}
	return ""
}

func parsePlan(update json.RawMessage) *agentbridge.ChunkPayload {
	var d struct {
		Entries []struct {
			Content string `json:"content"`
			Status  string `json:"status"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(update, &d); err != nil {
		return unmarshalError("plan", err)
	}
	lines := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		mark := " "
		switch e.Status {
		case "completed":
			mark = "x"
		case "in_progress":
			mark = "~"
		}
		lines = append(lines, "["+mark+"] "+e.Content)
	}
	return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkPlan, Chunk: strings.Join(lines, "\n")}
}

func parseCurrentModeUpdate(update json.RawMessage) *agentbridge.ChunkPayload {
	var d struct {
		CurrentModeID string `json:"currentModeId"`
	}
	if err := json.Unmarshal(update, &d); err != nil {
		return unmarshalError("current_mode_update", err)
	}
	return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkSystem, Chunk: "mode:" + d.CurrentModeID}
}

func parseSessionInfoUpdate(update json.RawMessage) *agentbridge.ChunkPayload {
	var d struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(update, &d); err != nil {
		return unmarshalError("session_info_update", err)
	}
	return &agentbridge.ChunkPayload{Kind: agentbridge.ChunkSystem, Chunk: "session_info:" + d.Title}
}
