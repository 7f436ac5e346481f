//go:build !windows

package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/engine/internal/stoputil"
	"github.com/thoughttree/agentbridge/pending"
	"github.com/thoughttree/agentbridge/provider"
)

// Resolver produces the command that starts an agent.
type Resolver interface {
	Resolve(tag, override, model string) (provider.Command, error)
}

// Controller runs one-shot ACP sessions. Each Run spawns a fresh agent,
// performs the handshake, sends a single prompt, relays its output and
// tears the agent down. Runs may proceed concurrently; they share only the
// pending table and the resolver.
type Controller struct {
	resolver Resolver
	table    *pending.Table
	emitter  agentbridge.Emitter
	opts     Options
}

// NewController returns a Controller. A nil table gets a private one; a
// nil emitter discards events. The emitter must be safe for concurrent use.
func NewController(resolver Resolver, table *pending.Table, emitter agentbridge.Emitter, opts ...Option) *Controller {
	if table == nil {
		table = pending.NewTable()
	}
	if emitter == nil {
		emitter = agentbridge.Discard
	}
	return &Controller{resolver: resolver, table: table, emitter: emitter, opts: resolveOptions(opts...)}
}

// Table returns the escalation table decisions must be delivered to.
func (c *Controller) Table() *pending.Table { return c.table }

// Run executes one session and returns the agent's stop reason.
//
// Failures after spawning are *agentbridge.PhaseError values. An empty
// prompt returns agentbridge.ErrEmptyPrompt and a missing root returns
// agentbridge.ErrNotConfigured, both before anything is spawned. When ctx
// ends mid-prompt the agent is sent session/cancel, torn down, and the
// error wraps agentbridge.ErrTerminated.
func (c *Controller) Run(ctx context.Context, req agentbridge.Request, opts ...agentbridge.Option) (agentbridge.StopReason, error) {
	ro := agentbridge.ResolveOptions(opts...)
	if ro.Model != "" {
		req.Model = ro.Model
	}
	if ro.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ro.Timeout)
		defer cancel()
	}

	prompt, err := composePrompt(req.Turns, c.opts.Now())
	if err != nil {
		return "", err
	}
	root, err := checkRoot(req.Root)
	if err != nil {
		return "", err
	}

	s := &session{
		c:       c,
		req:     req,
		root:    root,
		log:     c.opts.Logger.With(zap.String("node_id", req.NodeID), zap.String("provider", req.Provider)),
		updates: make(chan agentbridge.ChunkPayload, updateQueueSize),
	}
	s.permCtx, s.stopPerms = context.WithCancel(context.Background())
	return s.run(ctx, prompt)
}

func checkRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: sandbox root is not set", agentbridge.ErrNotConfigured)
	}
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%w: sandbox root must be absolute, got %q", agentbridge.ErrNotConfigured, root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: sandbox root: %w", agentbridge.ErrNotConfigured, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: sandbox root is not a directory: %s", agentbridge.ErrNotConfigured, root)
	}
	return root, nil
}

// session is the state of one Run. Owned by the Run goroutine except where
// noted.
type session struct {
	c     *Controller
	req   agentbridge.Request
	root  string
	log   *zap.Logger
	phase atomic.Int32

	proc    *agentProcess
	conn    *Conn
	id      string
	updates chan agentbridge.ChunkPayload // written only by ReadLoop
	group   errgroup.Group

	// permCtx ends outstanding escalations when the prompt is cancelled or
	// the session is torn down.
	permCtx   context.Context
	stopPerms context.CancelFunc
}

func (s *session) setPhase(p agentbridge.Phase) {
	s.phase.Store(int32(p))
	s.log.Debug("session phase", zap.Stringer("phase", p))
}

func (s *session) currentPhase() agentbridge.Phase {
	return agentbridge.Phase(s.phase.Load())
}

func (s *session) fail(err error) error {
	return &agentbridge.PhaseError{Phase: s.currentPhase(), Err: err}
}

func (s *session) run(ctx context.Context, prompt []contentBlock) (agentbridge.StopReason, error) {
	s.setPhase(agentbridge.PhaseSpawning)
	cmd, err := s.c.resolver.Resolve(s.req.Provider, s.req.Override, s.req.Model)
	if err != nil {
		return "", s.fail(err)
	}
	if err := s.start(cmd); err != nil {
		return "", s.fail(err)
	}
	defer s.teardown()

	if err := s.handshake(ctx, cmd.Provider); err != nil {
		return "", s.fail(s.explain(err))
	}

	s.setPhase(agentbridge.PhasePrompting)
	return s.prompt(ctx, prompt)
}

// start spawns the agent and launches the session's background tasks:
// the JSON-RPC read loop, the stderr drain, the chunk dispatcher, and the
// reaper, which waits for both readers before calling Wait.
func (s *session) start(pc provider.Command) error {
	proc, err := startAgent(pc, s.root, s.log)
	if err != nil {
		return err
	}
	s.proc = proc
	s.conn = newConn(proc.stdout, proc.stdin, connConfig{
		maxMessageSize: s.c.opts.MaxMessageSize,
		logger:         s.log,
	})
	s.conn.OnNotification(MethodSessionUpdate, s.handleUpdate)
	s.conn.OnMethod(MethodRequestPerm, s.handlePermission)

	var readers sync.WaitGroup
	readers.Add(2)
	s.group.Go(func() error {
		defer readers.Done()
		s.conn.ReadLoop()
		close(s.updates)
		return nil
	})
	s.group.Go(func() error {
		defer readers.Done()
		return proc.drainStderr()
	})
	s.group.Go(s.dispatch)
	s.group.Go(func() error {
		readers.Wait()
		proc.reap()
		return nil
	})
	return nil
}

// teardown always runs once the agent has been spawned. After it returns
// the process is reaped, every goroutine of the session has exited, and no
// escalation of this session remains in the table.
func (s *session) teardown() {
	s.setPhase(agentbridge.PhaseTerminated)
	s.stopPerms()
	s.conn.Close()
	s.proc.terminate(s.c.opts.GracePeriod)
	_ = s.group.Wait()
	s.conn.WaitHandlers()
	s.log.Info("session closed", zap.String("session_id", s.id))
}

// explain marks a connection-closed error as a termination and attaches
// the read error and the agent's exit status when there is one.
func (s *session) explain(err error) error {
	if !errors.Is(err, ErrConnClosed) {
		return err
	}
	err = fmt.Errorf("%w: %w", agentbridge.ErrTerminated, err)
	if rerr := s.conn.Err(); rerr != nil {
		err = fmt.Errorf("%w: %w", err, rerr)
	}
	select {
	case <-s.proc.exited:
	case <-time.After(s.c.opts.GracePeriod):
		return err
	}
	if ee := s.proc.exitError(); ee != nil {
		return fmt.Errorf("%w: %w", err, ee)
	}
	return err
}

// --- Handshake ---

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.:]{1,256}$`)

func validateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session ID %q does not match allowed pattern", id)
	}
	return nil
}

// handshake runs initialize, session/new and, when needed, model selection
// under the handshake deadline.
func (s *session) handshake(ctx context.Context, p provider.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, s.c.opts.HandshakeTimeout)
	defer cancel()

	s.setPhase(agentbridge.PhaseHandshaking)
	var init initializeResult
	err := s.conn.Call(ctx, MethodInitialize, initializeParams{
		ProtocolVersion:    protocolVersion,
		ClientCapabilities: clientCapabilities{},
		ClientInfo:         &implementation{Name: clientName, Title: clientTitle, Version: clientVersion},
	}, &init)
	if err != nil {
		return err
	}
	if init.ProtocolVersion != protocolVersion {
		return fmt.Errorf("unsupported protocol version %d", init.ProtocolVersion)
	}
	if a := init.AgentInfo; a != nil {
		s.log.Info("agent connected", zap.String("agent", a.Name), zap.String("version", a.Version))
	}

	s.setPhase(agentbridge.PhaseSessionCreated)
	var created newSessionResult
	if err := s.conn.Call(ctx, MethodSessionNew, newSessionParams{CWD: s.root, MCPServers: []mcpServer{}}, &created); err != nil {
		return err
	}
	if err := validateSessionID(created.SessionID); err != nil {
		return err
	}
	s.id = created.SessionID
	s.log.Info("session created", zap.String("session_id", s.id), zap.String("cwd", s.root))

	return s.selectModel(ctx, p, created)
}

// --- Prompt ---

func (s *session) prompt(ctx context.Context, blocks []contentBlock) (agentbridge.StopReason, error) {
	var result promptResult
	errCh := make(chan error, 1)
	// Ends with the response, or when ReadLoop exits during teardown.
	s.group.Go(func() error {
		errCh <- s.conn.Call(context.Background(), MethodSessionPrompt, promptParams{SessionID: s.id, Prompt: blocks}, &result)
		return nil
	})

	select {
	case err := <-errCh:
		if err != nil {
			return "", s.fail(s.explain(err))
		}
		reason := stoputil.Sanitize(result.StopReason)
		if !stoputil.Known(reason) {
			s.log.Warn("unrecognized stop reason", zap.String("stop_reason", result.StopReason))
		}
		s.log.Info("prompt finished", zap.String("stop_reason", string(reason)))
		return reason, nil

	case <-ctx.Done():
		s.log.Info("prompt cancelled by caller", zap.Error(ctx.Err()))
		s.stopPerms()
		if err := s.conn.Notify(MethodSessionCancel, cancelParams{SessionID: s.id}); err != nil {
			s.log.Debug("session/cancel not sent", zap.Error(err))
		}
		select {
		case err := <-errCh:
			if err == nil {
				s.log.Debug("agent acknowledged cancel", zap.String("stop_reason", result.StopReason))
			}
		case <-time.After(s.c.opts.CancelTimeout):
		}
		return "", s.fail(fmt.Errorf("%w: %w", agentbridge.ErrTerminated, ctx.Err()))
	}
}

// --- Streaming ---

// handleUpdate runs on the ReadLoop goroutine, so chunks enter the queue in
// protocol order. A full queue blocks ReadLoop rather than reordering.
func (s *session) handleUpdate(params json.RawMessage) {
	var n sessionNotification
	var p *agentbridge.ChunkPayload
	if err := json.Unmarshal(params, &n); err != nil {
		p = errorChunk(fmt.Sprintf("acp: unmarshal update params: %v", err))
	} else {
		p = parseSessionUpdate(n.Update)
	}
	s.phase.CompareAndSwap(int32(agentbridge.PhasePrompting), int32(agentbridge.PhaseStreaming))
	if p == nil {
		return
	}
	s.logChunk(p)
	p.NodeID = s.req.NodeID
	s.updates <- *p
}

func (s *session) logChunk(p *agentbridge.ChunkPayload) {
	switch p.Kind {
	case agentbridge.ChunkThought:
		s.log.Debug("thought", zap.String("text", p.Chunk))
	case agentbridge.ChunkToolCall:
		s.log.Info("tool call", zap.String("title", p.Chunk), zap.String("kind", p.Tool.Kind))
	case agentbridge.ChunkToolUpdate, agentbridge.ChunkPlan:
		s.log.Debug(string(p.Kind), zap.String("text", p.Chunk))
	case agentbridge.ChunkError:
		s.log.Warn("agent update error", zap.String("text", p.Chunk))
	}
}

// dispatch forwards queued chunks to the emitter until ReadLoop ends.
func (s *session) dispatch() error {
	for p := range s.updates {
		if err := s.c.emitter.Emit(agentbridge.EventStreamChunk, p); err != nil {
			s.log.Warn("failed to emit chunk", zap.Error(err))
		}
	}
	return nil
}
