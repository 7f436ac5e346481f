// Package agentbridge connects an interactive application to an external,
// untrusted coding agent that speaks the Agent Client Protocol over stdio.
//
// The root package defines the vocabulary shared by every other package:
//
//   - [Turn], [Image], [Request]: what the caller asks for
//   - [StopReason]: how a prompt turn ended
//   - [Phase]: where a session is in its lifecycle
//   - [Emitter]: the sink for streamed chunks and permission prompts
//   - [ChunkPayload], [PermissionPayload]: event payloads pushed to the sink
//
// The session engine lives in engine/acp, the permission policy in policy,
// the escalation table in pending, path containment in sandbox and
// executable discovery in provider. Package bridge wires them together.
//
// # Quick Start
//
//	b := bridge.New(store, resolver, emitter)
//	stop, err := b.RunSession(ctx, bridge.SessionRequest{
//	    NodeID:   "n1",
//	    Turns:    []agentbridge.Turn{{Role: "user", Content: "Summarize todo.md"}},
//	    Provider: "claude",
//	})
package agentbridge
