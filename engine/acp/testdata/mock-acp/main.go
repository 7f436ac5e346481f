//go:build ignore

// Command mock-acp simulates an ACP agent for integration tests.
// It speaks JSON-RPC 2.0 over stdin/stdout: initialize, session/new,
// session/prompt, session/cancel, session/set_model and
// session/set_config_option.
//
// ACP_MOCK_MODE selects the behavior:
//
//	(empty)             stream thought, text, tool call, plan; end_turn
//	init-error          JSON-RPC error for initialize
//	session-error       JSON-RPC error for session/new
//	bad-session-id      session/new returns an unusable id
//	crash               stream one chunk, then exit 3 mid-prompt
//	stderr              write noise to stderr during the handshake
//	echo-prompt         stream back the prompt text
//	echo-args           stream back the command line arguments
//	models              advertise models; echo the active one
//	set-model-fail      advertise models; reject session/set_model
//	config-model        expose the model as a config option; echo it
//	no-models           advertise no way to select a model
//	permission-read     request permission for Read of ./notes.md
//	permission-outside  request permission for Read of /etc/hosts
//	permission-bash     request permission for Bash
//	permission-fetch    request permission for WebFetch
//	slow-prompt         stream one chunk, answer only after session/cancel
//	stubborn            like slow-prompt but ignore cancel and SIGTERM
//
// Permission modes stream the outcome back as "outcome:<outcome>:<option>".
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const sessionID = "mock-session-001"

var (
	enc     = json.NewEncoder(os.Stdout)
	scanner = bufio.NewScanner(os.Stdin)
	mode    = os.Getenv("ACP_MOCK_MODE")
	nextID  int64

	cwd           string
	currentModel  = "small"
	pendingPrompt *int64
)

func main() {
	if mode == "stubborn" {
		signal.Ignore(syscall.SIGTERM)
	}
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for {
		msg, ok := read()
		if !ok {
			if mode == "stubborn" {
				time.Sleep(time.Hour)
			}
			return
		}
		handle(msg)
	}
}

func read() (*rpcMessage, bool) {
	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		return &msg, true
	}
	return nil, false
}

func handle(msg *rpcMessage) {
	switch msg.Method {
	case "initialize":
		handleInitialize(msg)
	case "session/new":
		handleSessionNew(msg)
	case "session/prompt":
		handlePrompt(msg)
	case "session/cancel":
		handleCancel()
	case "session/set_model":
		handleSetModel(msg)
	case "session/set_config_option":
		handleSetConfigOption(msg)
	default:
		if msg.ID != nil && msg.Method != "" {
			respondError(msg.ID, -32601, "method not found: "+msg.Method)
		}
	}
}

func handleInitialize(msg *rpcMessage) {
	if mode == "stderr" {
		fmt.Fprintln(os.Stderr, "warming up\x1b[0m")
		fmt.Fprintln(os.Stderr, "deprecated flag ignored")
	}
	if mode == "init-error" {
		respondError(msg.ID, -32600, "mock init error")
		return
	}
	respond(msg.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"promptCapabilities": map[string]bool{"image": true},
		},
		"agentInfo":   map[string]string{"name": "mock-acp", "version": "0.1.0"},
		"authMethods": []any{},
	})
}

func handleSessionNew(msg *rpcMessage) {
	if mode == "session-error" {
		respondError(msg.ID, -32000, "mock session error")
		return
	}
	var params struct {
		CWD string `json:"cwd"`
	}
	_ = json.Unmarshal(msg.Params, &params)
	cwd = params.CWD

	id := sessionID
	if mode == "bad-session-id" {
		id = "bad id; rm -rf"
	}
	result := map[string]any{"sessionId": id}
	switch mode {
	case "models", "set-model-fail":
		result["models"] = map[string]any{
			"currentModelId": currentModel,
			"availableModels": []map[string]string{
				{"modelId": "small", "name": "Small"},
				{"modelId": "big", "name": "Big"},
			},
		}
	case "config-model":
		result["configOptions"] = []map[string]any{{
			"id":           "model",
			"name":         "Model",
			"category":     "model",
			"type":         "select",
			"currentValue": currentModel,
			"options": []map[string]string{
				{"value": "small", "name": "Small"},
				{"value": "big", "name": "Big"},
			},
		}}
	}
	respond(msg.ID, result)
}

func handleSetModel(msg *rpcMessage) {
	if mode == "set-model-fail" {
		respondError(msg.ID, -32000, "mock set_model error")
		return
	}
	var params struct {
		ModelID string `json:"modelId"`
	}
	_ = json.Unmarshal(msg.Params, &params)
	currentModel = params.ModelID
	respond(msg.ID, map[string]any{})
}

func handleSetConfigOption(msg *rpcMessage) {
	var params struct {
		ConfigID string `json:"configId"`
		Value    string `json:"value"`
	}
	_ = json.Unmarshal(msg.Params, &params)
	if params.ConfigID == "model" {
		currentModel = params.Value
	}
	respond(msg.ID, map[string]any{"configOptions": []any{}})
}

func handlePrompt(msg *rpcMessage) {
	switch mode {
	case "crash":
		text("partial")
		os.Exit(3)
	case "slow-prompt", "stubborn":
		text("working")
		pendingPrompt = msg.ID
		return
	case "echo-prompt":
		var params struct {
			Prompt []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"prompt"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		for _, b := range params.Prompt {
			text(b.Type + ":" + b.Text)
		}
	case "echo-args":
		text("args:" + strings.Join(os.Args[1:], " "))
	case "models", "config-model":
		text("model:" + currentModel)
	case "permission-read":
		requestPermission("Read", "read", filepath.Join(cwd, "notes.md"))
	case "permission-outside":
		requestPermission("Read", "read", "/etc/hosts")
	case "permission-bash":
		requestPermission("Bash", "execute", "")
	case "permission-fetch":
		requestPermission("WebFetch", "fetch", "")
	default:
		stream()
	}
	respond(msg.ID, map[string]any{"stopReason": "end_turn"})
}

func handleCancel() {
	if pendingPrompt == nil || mode == "stubborn" {
		return
	}
	respond(pendingPrompt, map[string]any{"stopReason": "cancelled"})
	pendingPrompt = nil
}

func stream() {
	update(map[string]any{
		"sessionUpdate": "agent_thought_chunk",
		"content":       map[string]string{"type": "text", "text": "Let me think"},
	})
	text("Hello")
	text(" world")
	update(map[string]any{
		"sessionUpdate": "tool_call",
		"toolCallId":    "call_001",
		"title":         "Read notes.md",
		"kind":          "read",
		"status":        "pending",
		"rawInput":      map[string]string{"path": "notes.md"},
	})
	update(map[string]any{
		"sessionUpdate": "tool_call_update",
		"toolCallId":    "call_001",
		"status":        "completed",
		"content": []map[string]any{
			{"type": "content", "content": map[string]string{"type": "text", "text": "file contents"}},
		},
	})
	update(map[string]any{
		"sessionUpdate": "plan",
		"entries": []map[string]string{
			{"content": "read notes", "status": "completed", "priority": "high"},
			{"content": "summarize", "status": "pending", "priority": "medium"},
		},
	})
}

// requestPermission asks the client and streams back its answer. Updates
// arriving in between are not expected; other messages are handled inline.
func requestPermission(title, kind, path string) {
	nextID++
	id := nextID
	toolCall := map[string]any{
		"toolCallId": "call_perm_001",
		"title":      title,
		"kind":       kind,
		"status":     "pending",
	}
	if path != "" {
		toolCall["locations"] = []map[string]string{{"path": path}}
	}
	_ = enc.Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "session/request_permission",
		"params": map[string]any{
			"sessionId": sessionID,
			"toolCall":  toolCall,
			"options": []map[string]string{
				{"optionId": "allow-once", "name": "Allow once", "kind": "allow_once"},
				{"optionId": "allow-always", "name": "Always allow", "kind": "allow_always"},
				{"optionId": "reject-once", "name": "Reject", "kind": "reject_once"},
			},
		},
	})

	for {
		msg, ok := read()
		if !ok {
			os.Exit(0)
		}
		if msg.Method != "" {
			handle(msg)
			continue
		}
		if msg.ID == nil || *msg.ID != id {
			continue
		}
		var res struct {
			Outcome struct {
				Outcome  string `json:"outcome"`
				OptionID string `json:"optionId"`
			} `json:"outcome"`
		}
		_ = json.Unmarshal(msg.Result, &res)
		text("outcome:" + res.Outcome.Outcome + ":" + res.Outcome.OptionID)
		return
	}
}

func text(s string) {
	update(map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]string{"type": "text", "text": s},
	})
}

func update(u any) {
	_ = enc.Encode(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params":  map[string]any{"sessionId": sessionID, "update": u},
	})
}

func respond(id *int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mock-acp: marshal: %v\n", err)
		return
	}
	_ = enc.Encode(rpcMessage{JSONRPC: "2.0", ID: id, Result: data})
}

func respondError(id *int64, code int, message string) {
	_ = enc.Encode(rpcMessage{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}
