package agentbridge

import "time"

// RunOptions holds resolved per-invocation configuration for a session run.
// Engine implementations call ResolveOptions to collapse functional options
// into this struct.
type RunOptions struct {
	// Model overrides Request.Model for this invocation.
	Model string

	// Timeout bounds the whole run, including the time spent waiting on
	// escalated permission requests. Zero means no timeout beyond the
	// context deadline.
	Timeout time.Duration
}

// Option configures a single session run.
type Option func(*RunOptions)

// ResolveOptions applies functional options and returns the resolved config.
// Nil options are skipped.
func ResolveOptions(opts ...Option) RunOptions {
	var ro RunOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}
	return ro
}

// WithModel overrides the requested model for this invocation.
func WithModel(model string) Option {
	return func(o *RunOptions) {
		o.Model = model
	}
}

// WithTimeout sets a deadline for the run.
func WithTimeout(d time.Duration) Option {
	return func(o *RunOptions) {
		o.Timeout = d
	}
}
