package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
)

const defaultValidateTimeout = 10 * time.Second

// Install directories searched after a provider's own KnownPaths.
var (
	defaultSystemDirs = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"}
	defaultUserDirs   = []string{".local/bin", ".npm-global/bin", ".bun/bin", ".volta/bin", ".cargo/bin"}
)

// Options configures a Resolver.
type Options struct {
	// SystemDirs are absolute directories searched for the binary.
	SystemDirs []string

	// UserDirs are directories relative to $HOME searched last.
	UserDirs []string

	// ValidateTimeout bounds each `--version` probe.
	ValidateTimeout time.Duration

	// Providers replaces the built-in provider table.
	Providers map[string]Provider

	Logger *zap.Logger
}

// Option configures a Resolver.
type Option func(*Options)

// WithSystemDirs replaces the system install directories.
func WithSystemDirs(dirs ...string) Option {
	return func(o *Options) { o.SystemDirs = dirs }
}

// WithUserDirs replaces the $HOME-relative install directories.
func WithUserDirs(dirs ...string) Option {
	return func(o *Options) { o.UserDirs = dirs }
}

// WithValidateTimeout sets the version probe deadline. Values <= 0 are ignored.
func WithValidateTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ValidateTimeout = d
		}
	}
}

// WithProviders replaces the provider table.
func WithProviders(ps ...Provider) Option {
	return func(o *Options) {
		o.Providers = make(map[string]Provider, len(ps))
		for _, p := range ps {
			o.Providers[p.Tag] = p
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

// Resolver finds agent executables. Discovered locations are cached per
// tag until Invalidate or InvalidateAll. Safe for concurrent use.
type Resolver struct {
	env  *Environment
	opts Options

	mu    sync.Mutex
	cache map[string]string // tag or runtime name -> path
}

// NewResolver returns a Resolver that reads overrides and $HOME from env.
func NewResolver(env *Environment, opts ...Option) *Resolver {
	o := Options{
		SystemDirs:      defaultSystemDirs,
		UserDirs:        defaultUserDirs,
		ValidateTimeout: defaultValidateTimeout,
		Providers:       builtin,
		Logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if env == nil {
		env = &Environment{}
	}
	return &Resolver{env: env, opts: o, cache: make(map[string]string)}
}

// Environment returns the snapshot the resolver was built with.
func (r *Resolver) Environment() *Environment { return r.env }

// Provider returns the row for tag.
func (r *Resolver) Provider(tag string) (Provider, error) {
	p, ok := r.opts.Providers[tag]
	if !ok {
		return Provider{}, fmt.Errorf("%w %q", ErrUnknownProvider, tag)
	}
	return p, nil
}

// Tags returns the configured provider tags, sorted.
func (r *Resolver) Tags() []string {
	tags := make([]string, 0, len(r.opts.Providers))
	for t := range r.opts.Providers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Resolve returns the command for tag. override is a user-configured path,
// empty for none. model is appended as a flag for providers that take it at
// spawn time.
func (r *Resolver) Resolve(tag, override, model string) (Command, error) {
	p, err := r.Provider(tag)
	if err != nil {
		return Command{}, err
	}

	path, err := r.locate(p.Tag, p.Binary, p.EnvVar, override, p.KnownPaths, p.InstallHint)
	if err != nil {
		return Command{}, err
	}

	cmd := Command{Provider: p, Path: path, Args: append([]string(nil), p.Args...)}
	if model != "" && p.ModelSelection == ModelViaFlag && p.ModelFlag != "" {
		cmd.Args = append(cmd.Args, p.ModelFlag, model)
	}

	if p.Runtime == nil {
		cmd.Env = r.env.Environ()
		return cmd, nil
	}
	rt := p.Runtime
	rtPath, err := r.locate(p.Tag, rt.Name, rt.EnvVar, "", rt.KnownPaths, rt.Hint)
	if err != nil {
		return Command{}, err
	}
	// Launcher scripts find the runtime through `#!/usr/bin/env node`.
	cmd.Env = r.env.WithPathPrefix(filepath.Dir(rtPath))
	return cmd, nil
}

// locate runs the four-step search for binary. Only discovery results
// (steps three and four) are cached.
func (r *Resolver) locate(tag, binary, envVar, override string, known []string, hint string) (string, error) {
	log := r.opts.Logger.With(zap.String("provider", tag), zap.String("binary", binary))

	if envVar != "" {
		if v := r.env.Get(envVar); v != "" {
			if err := checkExecutable(v); err != nil {
				return "", &ResolutionError{Provider: tag, Dependency: envVar, Hint: "fix or unset " + envVar,
					Err: fmt.Errorf("%w: %v", agentbridge.ErrNotConfigured, err)}
			}
			log.Debug("resolved from environment", zap.String("path", v))
			return v, nil
		}
	}

	if override != "" {
		if err := checkExecutable(override); err != nil {
			return "", &ResolutionError{Provider: tag, Dependency: binary, Hint: "update the configured path for " + tag,
				Err: fmt.Errorf("%w: %v", agentbridge.ErrNotConfigured, err)}
		}
		log.Debug("resolved from user override", zap.String("path", override))
		return override, nil
	}

	r.mu.Lock()
	cached, ok := r.cache[binary]
	r.mu.Unlock()
	if ok {
		if checkExecutable(cached) == nil {
			return cached, nil
		}
		r.invalidate(binary)
	}

	for _, candidate := range r.candidates(binary, known) {
		if checkExecutable(candidate) == nil {
			log.Debug("discovered", zap.String("path", candidate))
			r.mu.Lock()
			r.cache[binary] = candidate
			r.mu.Unlock()
			return candidate, nil
		}
	}

	log.Warn("not found")
	return "", &ResolutionError{Provider: tag, Dependency: binary, Hint: hint, Err: agentbridge.ErrUnavailable}
}

func (r *Resolver) candidates(binary string, known []string) []string {
	out := append([]string(nil), known...)
	for _, d := range r.opts.SystemDirs {
		out = append(out, filepath.Join(d, binary))
	}
	if home := r.env.Home(); home != "" {
		for _, d := range r.opts.UserDirs {
			out = append(out, filepath.Join(home, d, binary))
		}
	}
	return out
}

// Invalidate drops the cached location for tag's binary and runtime.
func (r *Resolver) Invalidate(tag string) {
	p, ok := r.opts.Providers[tag]
	if !ok {
		return
	}
	r.invalidate(p.Binary)
	if p.Runtime != nil {
		r.invalidate(p.Runtime.Name)
	}
}

func (r *Resolver) invalidate(key string) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// InvalidateAll drops every cached location.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
}

// Validate runs the provider's identity probe (`path --version` unless the
// row says otherwise) and checks that the output contains its marker. Used
// before accepting a user-supplied path.
func (r *Resolver) Validate(ctx context.Context, tag, path string) error {
	p, err := r.Provider(tag)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", agentbridge.ErrNotConfigured, err)
	}
	if err := checkExecutable(path); err != nil {
		return &ResolutionError{Provider: tag, Dependency: path, Hint: p.InstallHint,
			Err: fmt.Errorf("%w: %v", agentbridge.ErrNotConfigured, err)}
	}

	env := r.env.Environ()
	if p.Runtime != nil {
		if rt, err := r.locate(tag, p.Runtime.Name, p.Runtime.EnvVar, "", p.Runtime.KnownPaths, p.Runtime.Hint); err == nil {
			env = r.env.WithPathPrefix(filepath.Dir(rt))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ValidateTimeout)
	defer cancel()

	var out bytes.Buffer
	args := p.versionArgs()
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return &ResolutionError{Provider: tag, Dependency: path, Hint: p.InstallHint, Err: fmt.Errorf("%w: %s: %v", agentbridge.ErrUnavailable, strings.Join(args, " "), err)}
	}

	text := strings.TrimSpace(out.String())
	if text == "" || !strings.Contains(strings.ToLower(text), strings.ToLower(p.VersionMarker)) {
		return &ResolutionError{Provider: tag, Dependency: path, Hint: p.InstallHint, Err: fmt.Errorf("%w: %q", ErrVersionMismatch, firstLine(text))}
	}
	r.opts.Logger.Debug("validated", zap.String("provider", tag), zap.String("path", path), zap.String("version", firstLine(text)))
	return nil
}

// Check resolves tag and validates the result.
func (r *Resolver) Check(ctx context.Context, tag, override string) (Command, error) {
	cmd, err := r.Resolve(tag, override, "")
	if err != nil {
		return Command{}, err
	}
	if err := r.Validate(ctx, tag, cmd.Path); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

var errNotExecutable = errors.New("not executable")

// checkExecutable requires an absolute path to a regular file with an
// execute bit set.
func checkExecutable(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s: path must be absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s: %w", path, errNotExecutable)
	}
	return nil
}
