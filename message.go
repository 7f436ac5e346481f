package agentbridge

import "encoding/json"

// Event names pushed to the Emitter.
const (
	// EventStreamChunk carries a ChunkPayload.
	EventStreamChunk = "stream-chunk"

	// EventPermissionRequest carries a PermissionPayload. The caller must
	// eventually answer it through the human decision channel.
	EventPermissionRequest = "permission-request"
)

// ChunkKind identifies what an agent streamed.
type ChunkKind string

const (
	// ChunkText is assistant text output.
	ChunkText ChunkKind = "text"

	// ChunkThought is the agent's reasoning output.
	ChunkThought ChunkKind = "thought"

	// ChunkToolCall announces a tool invocation.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkToolUpdate reports progress or completion of a tool invocation.
	ChunkToolUpdate ChunkKind = "tool_update"

	// ChunkPlan is the agent's current plan, one entry per line.
	ChunkPlan ChunkKind = "plan"

	// ChunkError is a malformed or failed update surfaced to the caller.
	ChunkError ChunkKind = "error"

	// ChunkSystem is a status change (mode switch, command list, ...).
	ChunkSystem ChunkKind = "system"
)

// ChunkPayload is one streamed piece of agent output.
type ChunkPayload struct {
	NodeID string    `json:"node_id"`
	Kind   ChunkKind `json:"kind"`
	Chunk  string    `json:"chunk"`

	// Tool is set for ChunkToolCall and ChunkToolUpdate.
	Tool *ToolCall `json:"tool,omitempty"`
}

// ToolCall describes a tool invocation by the agent.
type ToolCall struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Kind   string          `json:"kind,omitempty"`
	Status string          `json:"status,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// PermissionPayload asks the human to decide on an escalated permission
// request. ID is the escalation id to pass back with the chosen option.
type PermissionPayload struct {
	ID          string             `json:"id"`
	ToolType    string             `json:"tool_type"`
	ToolName    string             `json:"tool_name"`
	Description string             `json:"description"`
	Options     []PermissionOption `json:"options"`
}

// PermissionOption is one selectable answer to a permission request.
type PermissionOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}
