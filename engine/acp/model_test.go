package acp

import (
	"errors"
	"strings"
	"testing"
)

func advertised(current string, ids ...string) *sessionModelState {
	m := &sessionModelState{CurrentModelID: current}
	for _, id := range ids {
		m.AvailableModels = append(m.AvailableModels, modelInfo{ModelID: id, Name: id})
	}
	return m
}

func TestModelCall_SetModel(t *testing.T) {
	call, err := modelCall("s-1", "big", newSessionResult{Models: advertised("small", "small", "big")})
	if err != nil {
		t.Fatalf("modelCall: %v", err)
	}
	if call == nil || call.Method != MethodSessionSetModel {
		t.Fatalf("call = %+v, want set_model", call)
	}
	p := call.Params.(setModelParams)
	if p.SessionID != "s-1" || p.ModelID != "big" {
		t.Errorf("params = %+v", p)
	}
}

func TestModelCall_AlreadyCurrent(t *testing.T) {
	call, err := modelCall("s-1", "small", newSessionResult{Models: advertised("small", "small", "big")})
	if err != nil || call != nil {
		t.Fatalf("got (%+v, %v), want no call", call, err)
	}

	call, err = modelCall("s-1", "small", newSessionResult{ConfigOptions: []sessionConfigOption{
		{ID: "model", Category: "model", CurrentValue: "small"},
	}})
	if err != nil || call != nil {
		t.Fatalf("config option: got (%+v, %v), want no call", call, err)
	}
}

func TestModelCall_NotOffered(t *testing.T) {
	_, err := modelCall("s-1", "huge", newSessionResult{Models: advertised("small", "small", "big")})
	if err == nil {
		t.Fatal("expected error for unlisted model")
	}
	if !strings.Contains(err.Error(), "small, big") {
		t.Errorf("err = %v, want available models listed", err)
	}

	_, err = modelCall("s-1", "huge", newSessionResult{ConfigOptions: []sessionConfigOption{
		{ID: "llm", Category: "model", Options: []configOptionChoice{{Value: "small"}}},
	}})
	if err == nil {
		t.Fatal("expected error for value outside config option choices")
	}
}

func TestModelCall_ConfigOption(t *testing.T) {
	call, err := modelCall("s-1", "big", newSessionResult{ConfigOptions: []sessionConfigOption{
		{ID: "mode", Category: "mode"},
		{ID: "llm", Category: "model", CurrentValue: "small"},
	}})
	if err != nil {
		t.Fatalf("modelCall: %v", err)
	}
	if call == nil || call.Method != MethodSessionSetConfig {
		t.Fatalf("call = %+v, want set_config_option", call)
	}
	p := call.Params.(setConfigOptionParams)
	if p.ConfigID != "llm" || p.Value != "big" || p.SessionID != "s-1" {
		t.Errorf("params = %+v", p)
	}
}

func TestModelCall_Unsupported(t *testing.T) {
	for _, res := range []newSessionResult{
		{},
		{Models: &sessionModelState{CurrentModelID: "x"}},
		{ConfigOptions: []sessionConfigOption{{ID: "mode", Category: "mode"}}},
	} {
		if _, err := modelCall("s-1", "big", res); !errors.Is(err, ErrModelUnsupported) {
			t.Errorf("modelCall(%+v) err = %v, want ErrModelUnsupported", res, err)
		}
	}
}
