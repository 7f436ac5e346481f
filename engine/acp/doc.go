// Package acp runs one-shot Agent Client Protocol (ACP) sessions.
//
// ACP is JSON-RPC 2.0 over the agent's stdin and stdout, one message per
// line. A Controller spawns the agent for a single prompt: it performs the
// initialize and session/new handshake, optionally switches the model,
// sends session/prompt, relays every session/update to the caller's
// Emitter, and tears the agent's whole process group down when the turn
// ends.
//
// The agent is given no file system or terminal capabilities. Every tool
// use arrives as session/request_permission and is classified by a
// policy.Classifier: denied outright, approved when all paths stay inside
// the sandbox root, or escalated to a human through the pending table.
//
//	ctrl := acp.NewController(resolver, table, emitter, acp.WithLogger(log))
//	reason, err := ctrl.Run(ctx, agentbridge.Request{
//		NodeID:   "n1",
//		Turns:    turns,
//		Root:     "/home/me/notes",
//		Provider: "claude",
//	})
//
// This implementation targets ACP protocol version 1.
package acp
