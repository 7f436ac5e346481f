package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrConnClosed is returned by Call and Notify after Close, and by pending
// calls when the agent's stdout ends.
var ErrConnClosed = errors.New("acp: connection closed")

// MethodHandler answers a JSON-RPC call from the agent. ctx is cancelled
// when the connection is closed or the agent's output ends.
type MethodHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Conn is a bidirectional JSON-RPC 2.0 multiplexer over newline-delimited
// JSON.
//
// Outbound messages are serialized under mu. Inbound messages are dispatched
// by ReadLoop: responses complete pending Calls, notifications run inline in
// arrival order, and method calls run in their own goroutines. Handlers must
// be registered before ReadLoop starts.
//
// After Close nothing more is written. A method handler that finishes after
// Close has its reply dropped.
type Conn struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closed bool

	nextID  atomic.Int64
	pending map[int64]chan *rpcMessage

	notifyHandlers map[string]func(json.RawMessage)
	methodHandlers map[string]MethodHandler

	scanner  *bufio.Scanner
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	handlers sync.WaitGroup

	done    chan struct{}
	readErr atomic.Value
}

type connConfig struct {
	maxMessageSize int
	logger         *zap.Logger
}

// newConn creates a connection reading from r and writing to w. Call
// ReadLoop in a goroutine to start processing inbound messages.
func newConn(r io.Reader, w io.Writer, cfg connConfig) *Conn {
	maxSize := cfg.maxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	log := cfg.logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, min(4096, maxSize)), maxSize)

	return &Conn{
		enc:            json.NewEncoder(w),
		pending:        make(map[int64]chan *rpcMessage),
		notifyHandlers: make(map[string]func(json.RawMessage)),
		methodHandlers: make(map[string]MethodHandler),
		scanner:        s,
		log:            log,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// OnNotification registers a handler for notifications. It runs on the
// ReadLoop goroutine, so notifications are handled in the order received.
func (c *Conn) OnNotification(method string, h func(json.RawMessage)) {
	c.notifyHandlers[method] = h
}

// OnMethod registers a handler for method calls from the agent.
func (c *Conn) OnMethod(method string, h MethodHandler) {
	c.methodHandlers[method] = h
}

// Call sends a request and blocks until the response arrives, the
// connection ends, or ctx expires.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *rpcMessage, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("acp: %s: %w", method, ErrConnClosed)
	}
	c.pending[id] = ch
	err := c.enc.Encode(&rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("acp: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		return decodeResponse(resp, ok, method, result)
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// The response may have raced cancellation.
		select {
		case resp, ok := <-ch:
			return decodeResponse(resp, ok, method, result)
		default:
			return ctx.Err()
		}
	}
}

func decodeResponse(resp *rpcMessage, ok bool, method string, result any) error {
	if !ok {
		return fmt.Errorf("acp: %s: %w", method, ErrConnClosed)
	}
	if resp.Error != nil {
		return &RPCError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("acp: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params any) error {
	return c.write(&rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// Close stops all further writes and cancels the context handed to method
// handlers. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// WaitHandlers blocks until every method handler goroutine has returned.
func (c *Conn) WaitHandlers() {
	c.handlers.Wait()
}

// ReadLoop reads and dispatches inbound messages until the reader ends.
// On exit, pending Calls fail with ErrConnClosed and handler contexts are
// cancelled. Must be called exactly once.
func (c *Conn) ReadLoop() {
	defer close(c.done)
	defer c.cancel()
	defer c.failPending()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue // banners and blank lines
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.log.Warn("malformed message from agent", zap.Error(err), zap.Int("bytes", len(line)))
			continue
		}
		c.dispatch(&msg)
	}
	if err := c.scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

// Err returns the read error after ReadLoop exits, nil on clean EOF.
func (c *Conn) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Standard JSON-RPC 2.0 error codes.
const (
	rpcMethodNotFound   = -32601
	rpcInternalError    = -32603
	rpcApplicationError = -32000
)

func (c *Conn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	return c.enc.Encode(v)
}

func (c *Conn) dispatch(msg *rpcMessage) {
	hasID := msg.hasID()
	switch {
	case hasID && msg.Method == "":
		c.handleResponse(msg)
	case hasID:
		c.handleMethodCall(msg)
	case msg.Method != "":
		if h, ok := c.notifyHandlers[msg.Method]; ok {
			h(msg.Params)
		} else {
			c.log.Debug("unhandled notification", zap.String("method", msg.Method))
		}
	}
}

func (c *Conn) handleResponse(msg *rpcMessage) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		c.log.Debug("response with foreign id", zap.ByteString("id", msg.ID))
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Conn) handleMethodCall(msg *rpcMessage) {
	id := msg.ID
	h, ok := c.methodHandlers[msg.Method]
	if !ok {
		c.reply(id, nil, &rpcError{Code: rpcMethodNotFound, Message: "method not found: " + msg.Method})
		return
	}

	params := msg.Params
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		result, err := h(c.ctx, params)
		if err != nil {
			c.reply(id, nil, &rpcError{Code: rpcApplicationError, Message: err.Error()})
			return
		}
		data, err := json.Marshal(result)
		if err != nil {
			c.reply(id, nil, &rpcError{Code: rpcInternalError, Message: "marshal result: " + err.Error()})
			return
		}
		c.reply(id, data, nil)
	}()
}

// reply answers a call from the agent. Dropped after Close.
func (c *Conn) reply(id json.RawMessage, result json.RawMessage, rerr *rpcError) {
	err := c.write(&rpcMessage{JSONRPC: "2.0", ID: id, Result: result, Error: rerr})
	if err != nil {
		c.log.Debug("reply dropped", zap.ByteString("id", id), zap.Error(err))
	}
}

func (c *Conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// --- Wire types ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcMessage is any inbound message, and an outbound reply. IDs stay raw so
// string ids from the agent are echoed unchanged.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *rpcMessage) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is an error response from the agent.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}
