package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

// testPeer plays the agent side of a Conn over two pipes.
type testPeer struct {
	msgs  chan rpcMessage
	write func([]byte) error
	eof   func()
}

func newTestConn(t *testing.T) (*Conn, *testPeer) {
	t.Helper()

	// Conn reads agentOut; peer writes it. Conn writes agentIn; peer reads it.
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()

	conn := newConn(outR, inW, connConfig{})
	peer := &testPeer{
		msgs: make(chan rpcMessage, 16),
		write: func(b []byte) error {
			_, err := outW.Write(b)
			return err
		},
		eof: func() { outW.Close() },
	}
	go func() {
		dec := json.NewDecoder(inR)
		for {
			var msg rpcMessage
			if err := dec.Decode(&msg); err != nil {
				return
			}
			peer.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		outW.Close()
		inW.Close()
		outR.Close()
		inR.Close()
	})
	return conn, peer
}

func (p *testPeer) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := p.write(append(data, '\n')); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func (p *testPeer) sendRaw(t *testing.T, line string) {
	t.Helper()
	if err := p.write([]byte(line + "\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func (p *testPeer) next(t *testing.T) rpcMessage {
	t.Helper()
	select {
	case msg := <-p.msgs:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for message from Conn")
		return rpcMessage{}
	}
}

func (p *testPeer) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-p.msgs:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(d):
	}
}

func (p *testPeer) respond(t *testing.T, id json.RawMessage, result any) {
	t.Helper()
	p.send(t, map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func startReadLoop(conn *Conn) {
	go conn.ReadLoop()
}

func TestConn_CallSuccess(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	type result struct {
		SessionID string `json:"sessionId"`
	}
	errCh := make(chan error, 1)
	var got result
	go func() {
		errCh <- conn.Call(context.Background(), MethodSessionNew, newSessionParams{CWD: "/tmp"}, &got)
	}()

	req := peer.next(t)
	if req.Method != MethodSessionNew {
		t.Fatalf("method = %q, want %q", req.Method, MethodSessionNew)
	}
	var params newSessionParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.CWD != "/tmp" {
		t.Errorf("cwd = %q, want /tmp", params.CWD)
	}
	peer.respond(t, req.ID, map[string]string{"sessionId": "s-1"})

	if err := <-errCh; err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.SessionID != "s-1" {
		t.Errorf("sessionId = %q, want s-1", got.SessionID)
	}
}

func TestConn_CallRPCError(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Call(context.Background(), MethodInitialize, nil, nil) }()

	req := peer.next(t)
	peer.send(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      req.ID,
		"error":   map[string]any{"code": -32600, "message": "bad request"},
	})

	err := <-errCh
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32600 || rpcErr.Method != MethodInitialize {
		t.Errorf("rpc error = %+v", rpcErr)
	}
	if want := "initialize: rpc error -32600: bad request"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConn_CallContextCancel(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- conn.Call(ctx, MethodSessionPrompt, nil, nil) }()

	req := peer.next(t)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// A late response for the abandoned call is ignored.
	peer.respond(t, req.ID, map[string]string{"stopReason": "end_turn"})

	conn.mu.Lock()
	n := len(conn.pending)
	conn.mu.Unlock()
	if n != 0 {
		t.Errorf("pending = %d after cancel, want 0", n)
	}
}

func TestConn_PendingFailOnEOF(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Call(context.Background(), MethodSessionPrompt, nil, nil) }()
	peer.next(t)
	peer.eof()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnClosed) {
			t.Fatalf("err = %v, want ErrConnClosed", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Call did not return after EOF")
	}
	select {
	case <-conn.done:
	case <-time.After(testTimeout):
		t.Fatal("ReadLoop did not exit")
	}
	if err := conn.Err(); err != nil {
		t.Errorf("Err() = %v, want nil on clean EOF", err)
	}
}

func TestConn_NotificationsInOrder(t *testing.T) {
	conn, peer := newTestConn(t)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	conn.OnNotification(MethodSessionUpdate, func(params json.RawMessage) {
		var p struct {
			N int `json:"n"`
		}
		_ = json.Unmarshal(params, &p)
		mu.Lock()
		got = append(got, fmt.Sprint(p.N))
		if len(got) == 20 {
			close(done)
		}
		mu.Unlock()
	})
	startReadLoop(conn)

	for i := range 20 {
		peer.send(t, map[string]any{"jsonrpc": "2.0", "method": MethodSessionUpdate, "params": map[string]int{"n": i}})
	}
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for notifications")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, s := range got {
		if s != fmt.Sprint(i) {
			t.Fatalf("notification %d = %s, order broken: %v", i, s, got)
		}
	}
}

func TestConn_MethodCallReply(t *testing.T) {
	conn, peer := newTestConn(t)
	conn.OnMethod(MethodRequestPerm, func(_ context.Context, params json.RawMessage) (any, error) {
		return selectedOutcome("allow-once"), nil
	})
	startReadLoop(conn)

	peer.sendRaw(t, `{"jsonrpc":"2.0","id":"perm-7","method":"session/request_permission","params":{}}`)

	reply := peer.next(t)
	if string(reply.ID) != `"perm-7"` {
		t.Errorf("reply id = %s, want string id echoed", reply.ID)
	}
	var res requestPermissionResult
	if err := json.Unmarshal(reply.Result, &res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Outcome.Outcome != "selected" || res.Outcome.OptionID != "allow-once" {
		t.Errorf("outcome = %+v", res.Outcome)
	}
}

func TestConn_MethodCallHandlerError(t *testing.T) {
	conn, peer := newTestConn(t)
	conn.OnMethod("fs/read_text_file", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("not allowed")
	})
	startReadLoop(conn)

	peer.sendRaw(t, `{"jsonrpc":"2.0","id":3,"method":"fs/read_text_file","params":{}}`)
	reply := peer.next(t)
	if reply.Error == nil || reply.Error.Code != rpcApplicationError {
		t.Fatalf("reply error = %+v, want application error", reply.Error)
	}
	if reply.Error.Message != "not allowed" {
		t.Errorf("message = %q", reply.Error.Message)
	}
}

func TestConn_MethodNotFound(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	peer.sendRaw(t, `{"jsonrpc":"2.0","id":9,"method":"terminal/create","params":{}}`)
	reply := peer.next(t)
	if reply.Error == nil || reply.Error.Code != rpcMethodNotFound {
		t.Fatalf("reply error = %+v, want method not found", reply.Error)
	}
	if !strings.Contains(reply.Error.Message, "terminal/create") {
		t.Errorf("message = %q, want method name", reply.Error.Message)
	}
}

func TestConn_NoReplyAfterClose(t *testing.T) {
	conn, peer := newTestConn(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	conn.OnMethod(MethodRequestPerm, func(ctx context.Context, _ json.RawMessage) (any, error) {
		close(entered)
		<-release
		return selectedOutcome("allow-once"), nil
	})
	startReadLoop(conn)

	peer.sendRaw(t, `{"jsonrpc":"2.0","id":1,"method":"session/request_permission","params":{}}`)
	<-entered
	conn.Close()
	close(release)
	conn.WaitHandlers()

	peer.expectSilence(t, 100*time.Millisecond)
}

func TestConn_CloseCancelsHandlerContext(t *testing.T) {
	conn, peer := newTestConn(t)
	entered := make(chan struct{})
	conn.OnMethod(MethodRequestPerm, func(ctx context.Context, _ json.RawMessage) (any, error) {
		close(entered)
		<-ctx.Done()
		return cancelledOutcome(), nil
	})
	startReadLoop(conn)

	peer.sendRaw(t, `{"jsonrpc":"2.0","id":1,"method":"session/request_permission","params":{}}`)
	<-entered
	conn.Close()

	done := make(chan struct{})
	go func() {
		conn.WaitHandlers()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("handler did not observe Close")
	}
}

func TestConn_CallAfterClose(t *testing.T) {
	conn, _ := newTestConn(t)
	conn.Close()
	conn.Close()

	if err := conn.Call(context.Background(), MethodInitialize, nil, nil); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Call err = %v, want ErrConnClosed", err)
	}
	if err := conn.Notify(MethodSessionCancel, cancelParams{SessionID: "s"}); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Notify err = %v, want ErrConnClosed", err)
	}
}

func TestConn_Notify(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	go func() { _ = conn.Notify(MethodSessionCancel, cancelParams{SessionID: "s-1"}) }()
	msg := peer.next(t)
	if msg.Method != MethodSessionCancel {
		t.Fatalf("method = %q", msg.Method)
	}
	if msg.hasID() {
		t.Errorf("notification carries id %s", msg.ID)
	}
	if !strings.Contains(string(msg.Params), `"sessionId":"s-1"`) {
		t.Errorf("params = %s", msg.Params)
	}
}

func TestConn_SkipsNoise(t *testing.T) {
	conn, peer := newTestConn(t)
	got := make(chan string, 1)
	conn.OnNotification(MethodSessionUpdate, func(params json.RawMessage) {
		got <- string(params)
	})
	startReadLoop(conn)

	peer.sendRaw(t, "Starting agent v1.0...")
	peer.sendRaw(t, "")
	peer.sendRaw(t, "{not json")
	peer.sendRaw(t, `{"jsonrpc":"2.0","method":"session/update","params":{"ok":true}}`)

	select {
	case p := <-got:
		if p != `{"ok":true}` {
			t.Errorf("params = %s", p)
		}
	case <-time.After(testTimeout):
		t.Fatal("notification after noise was not delivered")
	}
}

func TestConn_ConcurrentCalls(t *testing.T) {
	conn, peer := newTestConn(t)
	startReadLoop(conn)

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out struct {
				Echo string `json:"echo"`
			}
			errs[i] = conn.Call(context.Background(), "echo", map[string]int{"i": i}, &out)
			results[i] = out.Echo
		}()
	}

	for range n {
		req := peer.next(t)
		var p struct {
			I int `json:"i"`
		}
		_ = json.Unmarshal(req.Params, &p)
		peer.respond(t, req.ID, map[string]string{"echo": fmt.Sprint(p.I)})
	}
	wg.Wait()
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if results[i] != fmt.Sprint(i) {
			t.Errorf("call %d got %q", i, results[i])
		}
	}
}

func TestConn_OversizedLine(t *testing.T) {
	outR, outW := io.Pipe()
	conn := newConn(outR, io.Discard, connConfig{maxMessageSize: 64})
	t.Cleanup(func() { outR.Close() })
	go conn.ReadLoop()

	go func() {
		_, _ = outW.Write([]byte(`{"jsonrpc":"2.0","method":"x","params":"` + strings.Repeat("a", 200) + "\"}\n"))
		outW.Close()
	}()
	select {
	case <-conn.done:
	case <-time.After(testTimeout):
		t.Fatal("ReadLoop did not exit on oversized line")
	}
	if conn.Err() == nil {
		t.Error("Err() = nil, want scanner error")
	}
}

func FuzzConn_Dispatch(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{"update":{}}}`))
	f.Add([]byte(`{"jsonrpc":"2.0","id":"x","method":"session/request_permission"}`))
	f.Add([]byte(`{"id":null}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		conn := newConn(strings.NewReader(""), io.Discard, connConfig{})
		conn.OnNotification(MethodSessionUpdate, func(json.RawMessage) {})
		conn.OnMethod(MethodRequestPerm, func(context.Context, json.RawMessage) (any, error) {
			return cancelledOutcome(), nil
		})
		conn.dispatch(&msg)
		conn.WaitHandlers()
	})
}
