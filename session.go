package agentbridge

// Turn is one prior message of the conversation being continued.
type Turn struct {
	// Role is the speaker, e.g. "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Images are optional attachments sent alongside the text.
	Images []Image `json:"images,omitempty"`
}

// Image is an attached image. Data is base64-encoded, as carried on the wire.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Request describes one session run. Session is a value type: it carries
// configuration only, no runtime state.
type Request struct {
	// NodeID identifies where streamed chunks should be rendered by the
	// caller. It is echoed in every ChunkPayload.
	NodeID string `json:"node_id"`

	// Turns is the conversation to send, oldest first.
	Turns []Turn `json:"turns"`

	// Root is the sandbox root: the agent's working directory and the only
	// tree read-only tools may touch. Must be absolute.
	Root string `json:"root"`

	// Provider is the provider tag (e.g. "claude").
	Provider string `json:"provider"`

	// Override is an optional user-configured executable path for Provider.
	Override string `json:"override,omitempty"`

	// Model is an optional model identifier.
	Model string `json:"model,omitempty"`
}

// StopReason is the terminal status the agent reports when a prompt turn
// ends (e.g. "end_turn", "max_tokens", "cancelled").
type StopReason string

// Well-known ACP stop reasons.
const (
	StopEndTurn         StopReason = "end_turn"
	StopMaxTokens       StopReason = "max_tokens"
	StopMaxTurnRequests StopReason = "max_turn_requests"
	StopRefusal         StopReason = "refusal"
	StopCancelled       StopReason = "cancelled"
)

// Phase is a step of the session lifecycle. Sessions move forward only:
// Idle → Spawning → Handshaking → SessionCreated → ModelSelecting →
// Prompting → Streaming → Terminated. ModelSelecting is skipped when no
// model switch is needed.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSpawning
	PhaseHandshaking
	PhaseSessionCreated
	PhaseModelSelecting
	PhasePrompting
	PhaseStreaming
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSpawning:
		return "spawning"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseSessionCreated:
		return "session created"
	case PhaseModelSelecting:
		return "model selecting"
	case PhasePrompting:
		return "prompting"
	case PhaseStreaming:
		return "streaming"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
