package acp

import "encoding/json"

// ACP method names.
const (
	MethodInitialize       = "initialize"
	MethodSessionNew       = "session/new"
	MethodSessionPrompt    = "session/prompt"
	MethodSessionUpdate    = "session/update"
	MethodSessionCancel    = "session/cancel"
	MethodSessionSetModel  = "session/set_model"
	MethodSessionSetConfig = "session/set_config_option"
	MethodRequestPerm      = "session/request_permission"
)

const (
	protocolVersion = 1
	clientName      = "agentbridge"
	clientTitle     = "Agent Bridge"
	clientVersion   = "0.3.0"
)

// --- initialize ---

type initializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities clientCapabilities `json:"clientCapabilities"`
	ClientInfo         *implementation    `json:"clientInfo,omitempty"`
}

type initializeResult struct {
	ProtocolVersion   int                `json:"protocolVersion"`
	AgentCapabilities *agentCapabilities `json:"agentCapabilities,omitempty"`
	AgentInfo         *implementation    `json:"agentInfo,omitempty"`
	AuthMethods       []authMethod       `json:"authMethods,omitempty"`
}

type implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// clientCapabilities is always sent with fs and terminal disabled: every
// file access goes through session/request_permission instead.
type clientCapabilities struct {
	FS       fileSystemCapability `json:"fs"`
	Terminal bool                 `json:"terminal"`
}

type fileSystemCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

type agentCapabilities struct {
	LoadSession        bool                `json:"loadSession,omitempty"`
	PromptCapabilities *promptCapabilities `json:"promptCapabilities,omitempty"`
}

type promptCapabilities struct {
	Image bool `json:"image,omitempty"`
	Audio bool `json:"audio,omitempty"`
}

type authMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// --- session/new ---

type newSessionParams struct {
	CWD        string      `json:"cwd"`
	MCPServers []mcpServer `json:"mcpServers"`
}

type mcpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type newSessionResult struct {
	SessionID     string                `json:"sessionId"`
	Models        *sessionModelState    `json:"models,omitempty"`
	ConfigOptions []sessionConfigOption `json:"configOptions,omitempty"`
}

type sessionModelState struct {
	CurrentModelID  string      `json:"currentModelId"`
	AvailableModels []modelInfo `json:"availableModels"`
}

type modelInfo struct {
	ModelID string `json:"modelId"`
	Name    string `json:"name"`
}

type sessionConfigOption struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Category     string               `json:"category,omitempty"`
	Type         string               `json:"type,omitempty"`
	CurrentValue string               `json:"currentValue,omitempty"`
	Options      []configOptionChoice `json:"options,omitempty"`
}

type configOptionChoice struct {
	Value string `json:"value"`
	Name  string `json:"name"`
}

// --- model selection ---

type setModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

type setConfigOptionParams struct {
	SessionID string `json:"sessionId"`
	ConfigID  string `json:"configId"`
	Value     string `json:"value"`
}

// --- session/prompt ---

// contentBlock is a text or image prompt element.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

type promptResult struct {
	StopReason string `json:"stopReason"`
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

// --- session/update ---

type sessionNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type sessionUpdateHeader struct {
	SessionUpdate string `json:"sessionUpdate"`
}

// toolCallUpdate describes a tool call in update and permission payloads.
type toolCallUpdate struct {
	ToolCallID string             `json:"toolCallId"`
	Title      string             `json:"title,omitempty"`
	Kind       string             `json:"kind,omitempty"`
	Status     string             `json:"status,omitempty"`
	Content    json.RawMessage    `json:"content,omitempty"`
	Locations  []toolCallLocation `json:"locations,omitempty"`
	RawInput   json.RawMessage    `json:"rawInput,omitempty"`
	RawOutput  json.RawMessage    `json:"rawOutput,omitempty"`
}

type toolCallLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// --- session/request_permission ---

type requestPermissionParams struct {
	SessionID string          `json:"sessionId"`
	ToolCall  toolCallUpdate  `json:"toolCall"`
	Options   []permissionOpt `json:"options"`
}

type permissionOpt struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type requestPermissionResult struct {
	Outcome requestPermissionOutcome `json:"outcome"`
}

type requestPermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

func cancelledOutcome() requestPermissionResult {
	return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "cancelled"}}
}

func selectedOutcome(optionID string) requestPermissionResult {
	return requestPermissionResult{Outcome: requestPermissionOutcome{Outcome: "selected", OptionID: optionID}}
}
