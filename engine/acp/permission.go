package acp

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/policy"
)

// Shown when a tool call names no locations or has no title.
const (
	noDetails   = "No additional details"
	unknownTool = "Unknown tool"
)

// handlePermission answers session/request_permission. It never returns an
// error: anything short of an approval is reported as a cancelled outcome.
func (s *session) handlePermission(ctx context.Context, params json.RawMessage) (any, error) {
	var wire requestPermissionParams
	if err := json.Unmarshal(params, &wire); err != nil {
		s.log.Warn("malformed permission request", zap.Error(err))
		return cancelledOutcome(), nil
	}

	req := policyRequest(wire)
	d := s.c.opts.Classifier.Classify(req, s.root)
	log := s.log.With(
		zap.String("tool", req.Title),
		zap.String("tool_call_id", req.ToolCallID),
		zap.String("kind", req.Kind),
		zap.Strings("paths", req.Paths),
	)

	switch d.Action {
	case policy.AutoApprove:
		log.Info("permission auto-approved", zap.String("category", d.Category), zap.String("option", d.OptionID))
		return selectedOutcome(d.OptionID), nil
	case policy.Escalate:
		log.Info("permission escalated", zap.String("category", d.Category))
		return s.escalate(ctx, wire, log), nil
	default:
		log.Warn("permission denied", zap.String("reason", d.Reason))
		return cancelledOutcome(), nil
	}
}

// escalate hands the request to the human and blocks until they answer, the
// session is cancelled, or the connection goes away.
func (s *session) escalate(ctx context.Context, wire requestPermissionParams, log *zap.Logger) requestPermissionResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.permCtx, cancel)
	defer stop()

	esc := s.c.table.Create()
	log = log.With(zap.String("escalation_id", esc.ID))
	if err := s.c.emitter.Emit(agentbridge.EventPermissionRequest, permissionPayload(esc.ID, wire)); err != nil {
		esc.Cancel()
		log.Error("permission request could not be delivered", zap.Error(err))
		return cancelledOutcome()
	}

	choice, err := esc.Wait(ctx)
	if err != nil {
		log.Info("escalation cancelled", zap.Error(err))
		return cancelledOutcome()
	}
	if !offered(wire.Options, choice) {
		log.Warn("chosen option was not offered", zap.String("option", choice))
		return cancelledOutcome()
	}
	log.Info("permission decided", zap.String("option", choice))
	return selectedOutcome(choice)
}

func policyRequest(wire requestPermissionParams) policy.Request {
	tc := wire.ToolCall
	req := policy.Request{
		ToolCallID: tc.ToolCallID,
		Title:      tc.Title,
		Kind:       tc.Kind,
	}
	for _, loc := range tc.Locations {
		req.Paths = append(req.Paths, loc.Path)
	}
	for _, o := range wire.Options {
		req.Options = append(req.Options, policy.Option{ID: o.OptionID, Label: o.Name, Kind: o.Kind})
	}
	return req
}

func permissionPayload(id string, wire requestPermissionParams) agentbridge.PermissionPayload {
	tc := wire.ToolCall
	p := agentbridge.PermissionPayload{
		ID:          id,
		ToolType:    tc.Kind,
		ToolName:    tc.Title,
		Description: noDetails,
		Options:     make([]agentbridge.PermissionOption, 0, len(wire.Options)),
	}
	if p.ToolType == "" {
		p.ToolType = tc.ToolCallID
	}
	if strings.TrimSpace(p.ToolName) == "" {
		p.ToolName = unknownTool
	}
	if len(tc.Locations) > 0 {
		paths := make([]string, len(tc.Locations))
		for i, loc := range tc.Locations {
			paths[i] = loc.Path
		}
		p.Description = strings.Join(paths, ", ")
	}
	for _, o := range wire.Options {
		p.Options = append(p.Options, agentbridge.PermissionOption{ID: o.OptionID, Label: o.Name})
	}
	return p
}

func offered(opts []permissionOpt, id string) bool {
	for _, o := range opts {
		if o.OptionID == id {
			return true
		}
	}
	return false
}
