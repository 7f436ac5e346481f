package bridge

import (
	"time"

	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge/engine/acp"
	"github.com/thoughttree/agentbridge/provider"
)

// Options configures a Bridge.
type Options struct {
	// DefaultProvider is used when a SessionRequest names none.
	DefaultProvider string

	// Timeout bounds every session run. Zero means no limit.
	Timeout time.Duration

	// EngineOptions are passed to the session controller.
	EngineOptions []acp.Option

	Logger *zap.Logger
}

// Option configures a Bridge.
type Option func(*Options)

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(tag string) Option {
	return func(o *Options) {
		if tag != "" {
			o.DefaultProvider = tag
		}
	}
}

// WithTimeout bounds every session run.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithEngineOptions forwards options to the session controller.
func WithEngineOptions(opts ...acp.Option) Option {
	return func(o *Options) {
		o.EngineOptions = append(o.EngineOptions, opts...)
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
		DefaultProvider: provider.DefaultTag,
		Logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
