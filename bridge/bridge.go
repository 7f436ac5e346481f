// Package bridge is the application-facing entry point. It combines the
// user settings store, the provider resolver, the session controller and
// the escalation table behind the operations a UI needs: run a session,
// answer a permission request, check a provider, and edit settings.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/engine/acp"
	"github.com/thoughttree/agentbridge/pending"
	"github.com/thoughttree/agentbridge/provider"
	"github.com/thoughttree/agentbridge/sandbox"
)

// Settings keys.
const (
	KeyNotesDirectory = "notes_directory"
	keyProviderPaths  = "provider_paths"
	keyModels         = "models"
)

// ProviderPathKey is the settings key holding the executable override for tag.
func ProviderPathKey(tag string) string { return keyProviderPaths + "." + tag }

// ModelKey is the settings key holding the preferred model for tag.
func ModelKey(tag string) string { return keyModels + "." + tag }

// Store persists user settings.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Save() error
}

// SessionRequest is what a UI asks for. Provider and Model fall back to the
// configured defaults.
type SessionRequest struct {
	NodeID   string             `json:"node_id"`
	Turns    []agentbridge.Turn `json:"turns"`
	Provider string             `json:"provider,omitempty"`
	Model    string             `json:"model,omitempty"`
}

// Settings is a snapshot of the user settings.
type Settings struct {
	NotesDirectory  string            `json:"notes_directory"`
	DefaultProvider string            `json:"default_provider"`
	ProviderPaths   map[string]string `json:"provider_paths"`
	Models          map[string]string `json:"models"`
}

// Bridge is safe for concurrent use.
type Bridge struct {
	store    Store
	resolver *provider.Resolver
	ctrl     *acp.Controller
	table    *pending.Table
	opts     Options
	log      *zap.Logger
}

// New wires a Bridge. emitter receives stream chunks and permission
// requests for every session.
func New(store Store, resolver *provider.Resolver, emitter agentbridge.Emitter, opts ...Option) *Bridge {
	o := resolveOptions(opts...)
	table := pending.NewTable()
	engineOpts := append([]acp.Option{acp.WithLogger(o.Logger)}, o.EngineOptions...)
	return &Bridge{
		store:    store,
		resolver: resolver,
		ctrl:     acp.NewController(resolver, table, emitter, engineOpts...),
		table:    table,
		opts:     o,
		log:      o.Logger,
	}
}

// RunSession runs one prompt against the selected provider inside the
// notes directory and returns the agent's stop reason.
func (b *Bridge) RunSession(ctx context.Context, req SessionRequest) (agentbridge.StopReason, error) {
	root := b.NotesDirectory()
	if root == "" {
		return "", fmt.Errorf("%w: notes directory is not set", agentbridge.ErrNotConfigured)
	}
	tag := req.Provider
	if tag == "" {
		tag = b.opts.DefaultProvider
	}
	model := req.Model
	if model == "" {
		model = b.Model(tag)
	}

	log := b.log.With(zap.String("node_id", req.NodeID), zap.String("provider", tag))
	log.Info("session requested", zap.Int("turns", len(req.Turns)), zap.String("model", model))

	var runOpts []agentbridge.Option
	if b.opts.Timeout > 0 {
		runOpts = append(runOpts, agentbridge.WithTimeout(b.opts.Timeout))
	}
	reason, err := b.ctrl.Run(ctx, agentbridge.Request{
		NodeID:   req.NodeID,
		Turns:    req.Turns,
		Root:     root,
		Provider: tag,
		Override: b.ProviderPath(tag),
		Model:    model,
	}, runOpts...)
	if err != nil {
		log.Warn("session failed", zap.Error(err))
		return "", err
	}
	return reason, nil
}

// RespondToPermission delivers the human's choice for escalation id.
// Returns pending.ErrNotFound if the request was already answered or its
// session has ended.
func (b *Bridge) RespondToPermission(id, optionID string) error {
	if err := b.table.Resolve(id, optionID); err != nil {
		b.log.Info("permission response not delivered", zap.String("escalation_id", id), zap.Error(err))
		return err
	}
	return nil
}

// PendingPermissions reports how many escalations await an answer.
func (b *Bridge) PendingPermissions() int { return b.table.Len() }

// CheckAvailable resolves and validates tag's executable.
func (b *Bridge) CheckAvailable(ctx context.Context, tag string) (provider.Command, error) {
	return b.resolver.Check(ctx, tag, b.ProviderPath(tag))
}

// Providers lists the provider tags this bridge can run.
func (b *Bridge) Providers() []string { return b.resolver.Tags() }

// NotesDirectory returns the configured sandbox root, or "".
func (b *Bridge) NotesDirectory() string {
	return b.getString(KeyNotesDirectory)
}

// SetNotesDirectory validates and persists dir as the sandbox root.
func (b *Bridge) SetNotesDirectory(dir string) error {
	v, err := sandbox.New(dir)
	if err != nil {
		return fmt.Errorf("%w: notes directory: %w", agentbridge.ErrNotConfigured, err)
	}
	return b.save(KeyNotesDirectory, v.Root())
}

// ProviderPath returns the executable override for tag, or "".
func (b *Bridge) ProviderPath(tag string) string {
	return b.getString(ProviderPathKey(tag))
}

// SetProviderPath validates path as tag's executable and persists it. An
// empty path clears the override and returns to discovery.
func (b *Bridge) SetProviderPath(ctx context.Context, tag, path string) error {
	if _, err := b.resolver.Provider(tag); err != nil {
		return err
	}
	if path != "" {
		if err := b.resolver.Validate(ctx, tag, path); err != nil {
			return err
		}
	}
	if err := b.save(ProviderPathKey(tag), path); err != nil {
		return err
	}
	b.resolver.Invalidate(tag)
	b.log.Info("provider path updated", zap.String("provider", tag), zap.String("path", path))
	return nil
}

// Model returns the preferred model for tag, or "".
func (b *Bridge) Model(tag string) string {
	return b.getString(ModelKey(tag))
}

// SetModel persists the preferred model for tag. An empty model clears it.
func (b *Bridge) SetModel(tag, model string) error {
	p, err := b.resolver.Provider(tag)
	if err != nil {
		return err
	}
	if model != "" && p.ModelSelection == provider.ModelNone {
		return fmt.Errorf("%w: provider %s does not support model selection", agentbridge.ErrNotConfigured, tag)
	}
	if strings.ContainsAny(model, " \t\n") {
		return fmt.Errorf("%w: invalid model %q", agentbridge.ErrNotConfigured, model)
	}
	return b.save(ModelKey(tag), model)
}

// Settings returns the current user settings.
func (b *Bridge) Settings() Settings {
	s := Settings{
		NotesDirectory:  b.NotesDirectory(),
		DefaultProvider: b.opts.DefaultProvider,
		ProviderPaths:   map[string]string{},
		Models:          map[string]string{},
	}
	for _, tag := range b.resolver.Tags() {
		if p := b.ProviderPath(tag); p != "" {
			s.ProviderPaths[tag] = p
		}
		if m := b.Model(tag); m != "" {
			s.Models[tag] = m
		}
	}
	return s
}

func (b *Bridge) getString(key string) string {
	v, ok := b.store.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		b.log.Warn("setting has unexpected type", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", v)))
		return ""
	}
	return s
}

func (b *Bridge) save(key, value string) error {
	b.store.Set(key, value)
	if err := b.store.Save(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// IsConfigurationError reports whether err should be fixed by the user in
// their settings rather than retried.
func IsConfigurationError(err error) bool {
	return errors.Is(err, agentbridge.ErrNotConfigured)
}
