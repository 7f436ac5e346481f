package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/provider"
)

// ErrModelUnsupported is returned when a model was requested but the agent
// advertises no way to switch models.
var ErrModelUnsupported = errors.New("acp: agent does not support model selection")

// modelCategory is the session config option category that carries the model.
const modelCategory = "model"

// configCall is a single RPC to apply after session/new.
type configCall struct {
	Method string
	Params any
}

// modelCall picks the RPC that switches sessionID to model. A nil call with
// a nil error means the agent already runs that model.
//
// Agents that advertise a model list get session/set_model; otherwise the
// "model" config option is set through session/set_config_option.
func modelCall(sessionID, model string, res newSessionResult) (*configCall, error) {
	if m := res.Models; m != nil && len(m.AvailableModels) > 0 {
		if m.CurrentModelID == model {
			return nil, nil
		}
		ids := make([]string, 0, len(m.AvailableModels))
		for _, am := range m.AvailableModels {
			if am.ModelID == model {
				return &configCall{
					Method: MethodSessionSetModel,
					Params: setModelParams{SessionID: sessionID, ModelID: model},
				}, nil
			}
			ids = append(ids, am.ModelID)
		}
		return nil, fmt.Errorf("model %q is not offered by the agent (available: %s)", model, strings.Join(ids, ", "))
	}

	opt, ok := modelOption(res.ConfigOptions)
	if !ok {
		return nil, ErrModelUnsupported
	}
	if opt.CurrentValue == model {
		return nil, nil
	}
	if len(opt.Options) > 0 && !offersValue(opt.Options, model) {
		return nil, fmt.Errorf("model %q is not a value of config option %q", model, opt.ID)
	}
	return &configCall{
		Method: MethodSessionSetConfig,
		Params: setConfigOptionParams{SessionID: sessionID, ConfigID: opt.ID, Value: model},
	}, nil
}

func modelOption(opts []sessionConfigOption) (sessionConfigOption, bool) {
	for _, o := range opts {
		if o.Category == modelCategory {
			return o, true
		}
	}
	return sessionConfigOption{}, false
}

func offersValue(choices []configOptionChoice, v string) bool {
	for _, c := range choices {
		if c.Value == v {
			return true
		}
	}
	return false
}

// selectModel switches the fresh session to the requested model. Providers
// that take the model on the command line, or cannot choose one at all,
// skip this step. Any failure here aborts the session.
func (s *session) selectModel(ctx context.Context, p provider.Provider, created newSessionResult) error {
	model := s.req.Model
	if model == "" {
		return nil
	}
	switch p.ModelSelection {
	case provider.ModelViaFlag:
		return nil
	case provider.ModelNone:
		s.log.Warn("provider cannot select models, ignoring", zap.String("model", model))
		return nil
	}

	s.setPhase(agentbridge.PhaseModelSelecting)
	call, err := modelCall(s.id, model, created)
	if err != nil {
		return err
	}
	if call == nil {
		s.log.Debug("model already active", zap.String("model", model))
		return nil
	}
	var out json.RawMessage
	if err := s.conn.Call(ctx, call.Method, call.Params, &out); err != nil {
		return fmt.Errorf("select model %q: %w", model, err)
	}
	s.log.Info("model selected", zap.String("model", model), zap.String("method", call.Method))
	return nil
}
