// Package stoputil cleans the stop reason an agent reports at the end of a
// prompt turn.
package stoputil

import (
	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/engine/internal/errfmt"
)

// MaxLen is the maximum byte length for a sanitized StopReason.
const MaxLen = 64

var known = map[agentbridge.StopReason]bool{
	agentbridge.StopEndTurn:         true,
	agentbridge.StopMaxTokens:       true,
	agentbridge.StopMaxTurnRequests: true,
	agentbridge.StopRefusal:         true,
	agentbridge.StopCancelled:       true,
}

// Sanitize returns raw as a StopReason, empty if it contains control
// characters, truncated to MaxLen bytes otherwise.
func Sanitize(raw string) agentbridge.StopReason {
	if errfmt.HasControl(raw) {
		return ""
	}
	return agentbridge.StopReason(errfmt.TruncateTo(raw, MaxLen))
}

// Known reports whether r is one of the stop reasons ACP defines.
func Known(r agentbridge.StopReason) bool {
	return known[r]
}
