package commands

import (
	"fmt"

	"github.com/thoughttree/agentbridge"
	"github.com/thoughttree/agentbridge/bridge"
	"github.com/thoughttree/agentbridge/engine/acp"
	"github.com/thoughttree/agentbridge/internal/config"
	"github.com/thoughttree/agentbridge/internal/logger"
	"github.com/thoughttree/agentbridge/policy"
	"github.com/thoughttree/agentbridge/provider"
)

// app is the wired bridge plus the pieces commands touch directly.
type app struct {
	bridge   *bridge.Bridge
	store    *config.Store
	resolver *provider.Resolver
}

// newApp wires the bridge from the loaded configuration. Events go to
// emitter.
func newApp(c *config.Config, l *logger.Logger, emitter agentbridge.Emitter) (*app, error) {
	store, err := config.OpenStore(c.Settings.Path)
	if err != nil {
		return nil, err
	}

	var dotenv []string
	if c.Env.File != "" {
		dotenv = append(dotenv, c.Env.File)
	}
	env, err := provider.FromOS(dotenv...)
	if err != nil {
		return nil, err
	}
	resolver := provider.NewResolver(env, provider.WithLogger(l.Zap()))

	classifier, err := loadClassifier(c.Policy)
	if err != nil {
		return nil, err
	}

	b := bridge.New(store, resolver, emitter,
		bridge.WithDefaultProvider(c.Session.DefaultProvider),
		bridge.WithTimeout(c.Session.Timeout),
		bridge.WithLogger(l.Zap()),
		bridge.WithEngineOptions(
			acp.WithClassifier(classifier),
			acp.WithGracePeriod(c.Session.GracePeriod),
			acp.WithHandshakeTimeout(c.Session.HandshakeTimeout),
			acp.WithCancelTimeout(c.Session.CancelTimeout),
		),
	)
	return &app{bridge: b, store: store, resolver: resolver}, nil
}

// loadClassifier returns the built-in classifier unless a rule file is
// configured.
func loadClassifier(pc config.PolicyConfig) (*policy.Classifier, error) {
	if pc.File == "" {
		return policy.Default(), nil
	}
	rules, err := policy.LoadFile(pc.File)
	if err != nil {
		return nil, err
	}
	c, err := policy.New(rules)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", pc.File, err)
	}
	return c, nil
}
