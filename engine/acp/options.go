package acp

import (
	"time"

	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge/policy"
)

// Default controller configuration values.
const (
	defaultGracePeriod      = 3 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	defaultCancelTimeout    = 2 * time.Second
	defaultMaxMessageSize   = 4 << 20 // 4 MB per JSON-RPC line
	updateQueueSize         = 1024
)

// Options holds resolved construction-time configuration for a Controller.
type Options struct {
	// GracePeriod is how long the agent gets between SIGTERM and SIGKILL.
	GracePeriod time.Duration

	// HandshakeTimeout bounds initialize, session/new and model selection.
	HandshakeTimeout time.Duration

	// CancelTimeout is how long to wait for the agent to acknowledge
	// session/cancel before tearing it down.
	CancelTimeout time.Duration

	// MaxMessageSize is the largest JSON-RPC line accepted from the agent.
	MaxMessageSize int

	// Classifier decides permission requests. Defaults to policy.Default().
	Classifier *policy.Classifier

	// Now supplies the date written at the top of each prompt.
	Now func() time.Time

	Logger *zap.Logger
}

// Option configures a Controller.
type Option func(*Options)

// WithGracePeriod sets the SIGTERM to SIGKILL delay. Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithHandshakeTimeout sets the handshake deadline. Values <= 0 are ignored.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.HandshakeTimeout = d
		}
	}
}

// WithCancelTimeout sets the session/cancel acknowledgement wait.
// Values <= 0 are ignored.
func WithCancelTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.CancelTimeout = d
		}
	}
}

// WithMaxMessageSize sets the inbound line limit. Values <= 0 are ignored.
func WithMaxMessageSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxMessageSize = n
		}
	}
}

// WithClassifier replaces the permission classifier. Nil is ignored.
func WithClassifier(c *policy.Classifier) Option {
	return func(o *Options) {
		if c != nil {
			o.Classifier = c
		}
	}
}

// WithClock replaces time.Now for prompt dating. Nil is ignored.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func resolveOptions(opts ...Option) Options {
	o := Options{
		GracePeriod:      defaultGracePeriod,
		HandshakeTimeout: defaultHandshakeTimeout,
		CancelTimeout:    defaultCancelTimeout,
		MaxMessageSize:   defaultMaxMessageSize,
		Now:              time.Now,
		Logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Classifier == nil {
		o.Classifier = policy.Default()
	}
	return o
}
