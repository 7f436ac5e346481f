package agentbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"
)

func TestResolveOptions_Zero(t *testing.T) {
	got := ResolveOptions()
	if got.Model != "" || got.Timeout != 0 {
		t.Fatalf("zero opts: want zero RunOptions, got %+v", got)
	}
}

func TestResolveOptions_LastWriterWins(t *testing.T) {
	got := ResolveOptions(WithModel("first"), WithModel("second"))
	if got.Model != "second" {
		t.Fatalf("want last-writer-wins Model=second, got %q", got.Model)
	}
}

func TestResolveOptions_NilOptionSkipped(t *testing.T) {
	got := ResolveOptions(nil, WithTimeout(5*time.Second), nil)
	if got.Timeout != 5*time.Second {
		t.Fatalf("want Timeout=5s, got %v", got.Timeout)
	}
}

func TestSentinelErrors_Distinct(t *testing.T) {
	sentinels := []error{ErrNotConfigured, ErrUnavailable, ErrEmptyPrompt, ErrTerminated}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Fatalf("%v should not match %v", a, b)
			}
		}
	}
}

func TestPhaseError_UnwrapAndPhase(t *testing.T) {
	inner := errors.New("connection closed")
	err := fmt.Errorf("run: %w", &PhaseError{Phase: PhaseHandshaking, Err: inner})

	if !errors.Is(err, inner) {
		t.Fatal("PhaseError should unwrap to the inner error")
	}
	phase, ok := FailedPhase(err)
	if !ok || phase != PhaseHandshaking {
		t.Fatalf("FailedPhase = (%v, %v), want (handshaking, true)", phase, ok)
	}
	if got := err.Error(); got != "run: agentbridge: handshaking: connection closed" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestFailedPhase_NoPhase(t *testing.T) {
	if _, ok := FailedPhase(errors.New("plain")); ok {
		t.Fatal("plain error should not report a phase")
	}
}

func TestExitError(t *testing.T) {
	t.Run("NilErr", func(t *testing.T) {
		e := &ExitError{Code: 3}
		if e.Error() != "agentbridge: exit status 3" {
			t.Fatalf("Error() = %q", e.Error())
		}
	})
	t.Run("WrapsExecError", func(t *testing.T) {
		inner := &exec.ExitError{}
		err := fmt.Errorf("wait: %w", &ExitError{Code: 1, Err: inner})
		var target *exec.ExitError
		if !errors.As(err, &target) {
			t.Fatal("errors.As should reach *exec.ExitError")
		}
		code, ok := ExitCode(err)
		if !ok || code != 1 {
			t.Fatalf("ExitCode = (%d, %v), want (1, true)", code, ok)
		}
	})
	t.Run("Absent", func(t *testing.T) {
		if _, ok := ExitCode(errors.New("x")); ok {
			t.Fatal("ExitCode should be false for unrelated errors")
		}
	})
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseSpawning, "spawning"},
		{PhaseHandshaking, "handshaking"},
		{PhaseSessionCreated, "session created"},
		{PhaseModelSelecting, "model selecting"},
		{PhasePrompting, "prompting"},
		{PhaseStreaming, "streaming"},
		{PhaseTerminated, "terminated"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestPermissionPayload_WireNames(t *testing.T) {
	data, err := json.Marshal(PermissionPayload{
		ID:          "req-1",
		ToolType:    "toolu_1",
		ToolName:    "WebFetch",
		Description: "No additional details",
		Options:     []PermissionOption{{ID: "allow-1", Label: "Allow"}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "tool_type", "tool_name", "description", "options"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestEmitterFunc(t *testing.T) {
	var gotEvent string
	e := EmitterFunc(func(event string, _ any) error {
		gotEvent = event
		return nil
	})
	if err := e.Emit(EventStreamChunk, ChunkPayload{}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if gotEvent != EventStreamChunk {
		t.Fatalf("event = %q, want %q", gotEvent, EventStreamChunk)
	}
	if err := Discard.Emit(EventStreamChunk, ChunkPayload{}); err != nil {
		t.Fatalf("Discard.Emit(chunk): %v", err)
	}
	if err := Discard.Emit(EventPermissionRequest, PermissionPayload{}); !errors.Is(err, ErrNoReceiver) {
		t.Fatalf("Discard.Emit(permission) = %v, want ErrNoReceiver", err)
	}
}
