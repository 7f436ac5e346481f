// Package provider locates ACP agent executables without consulting PATH.
//
// Each supported agent is described by a Provider row. A Resolver turns a
// provider tag plus an optional user override into a Command ready to spawn,
// checking in order: the provider's environment variable, the user override,
// fixed system install locations, and user-local install directories.
package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/thoughttree/agentbridge"
)

// ModelSelection says how a provider picks its model.
type ModelSelection int

const (
	// ModelNone: the provider cannot switch models; a requested model is ignored.
	ModelNone ModelSelection = iota
	// ModelViaProtocol: the model is chosen after session creation over ACP.
	ModelViaProtocol
	// ModelViaFlag: the model is fixed at spawn time with a command-line flag.
	ModelViaFlag
)

func (m ModelSelection) String() string {
	switch m {
	case ModelViaProtocol:
		return "protocol"
	case ModelViaFlag:
		return "flag"
	default:
		return "none"
	}
}

// Runtime is an interpreter a provider's launcher script needs on PATH.
type Runtime struct {
	Name       string
	EnvVar     string
	KnownPaths []string
	Hint       string
}

// Node is the runtime for npm-installed agents.
var Node = Runtime{
	Name:   "node",
	EnvVar: "AGENTBRIDGE_NODE_PATH",
	KnownPaths: []string{
		"/opt/homebrew/bin/node",
		"/usr/local/bin/node",
		"/usr/bin/node",
	},
	Hint: "install Node.js 18 or newer (https://nodejs.org)",
}

// Provider describes one agent implementation.
type Provider struct {
	Tag            string
	Binary         string
	Args           []string
	EnvVar         string
	VersionArgs    []string // identity probe arguments; nil means --version
	VersionMarker  string   // substring the probe output must contain
	ModelSelection ModelSelection
	ModelFlag      string
	Runtime        *Runtime
	InstallHint    string
	KnownPaths     []string
}

var builtin = map[string]Provider{
	"claude": {
		Tag:            "claude",
		Binary:         "claude-code-acp",
		EnvVar:         "AGENTBRIDGE_CLAUDE_PATH",
		VersionMarker:  "claude-code-acp",
		ModelSelection: ModelViaProtocol,
		Runtime:        &Node,
		InstallHint:    "npm install -g @zed-industries/claude-code-acp",
	},
	"codex": {
		Tag:            "codex",
		Binary:         "codex-acp",
		EnvVar:         "AGENTBRIDGE_CODEX_PATH",
		VersionMarker:  "codex",
		ModelSelection: ModelViaProtocol,
		InstallHint:    "npm install -g @zed-industries/codex-acp",
	},
	"gemini": {
		Tag:            "gemini",
		Binary:         "gemini",
		Args:           []string{"--experimental-acp"},
		EnvVar:         "AGENTBRIDGE_GEMINI_PATH",
		// gemini --version prints a bare version number; the usage text
		// names the binary.
		VersionArgs:    []string{"--help"},
		VersionMarker:  "gemini",
		ModelSelection: ModelViaFlag,
		ModelFlag:      "--model",
		Runtime:        &Node,
		InstallHint:    "npm install -g @google/gemini-cli",
	},
}

// Validate reports rows that could not identify their executable.
func (p Provider) Validate() error {
	switch {
	case p.Tag == "":
		return errors.New("provider: tag is required")
	case p.Binary == "":
		return fmt.Errorf("provider %s: binary is required", p.Tag)
	case strings.TrimSpace(p.VersionMarker) == "":
		return fmt.Errorf("provider %s: version marker is required", p.Tag)
	}
	return nil
}

func (p Provider) versionArgs() []string {
	if len(p.VersionArgs) == 0 {
		return []string{"--version"}
	}
	return p.VersionArgs
}

// DefaultTag is used when no provider is configured.
const DefaultTag = "claude"

// Lookup returns the built-in provider for tag.
func Lookup(tag string) (Provider, bool) {
	p, ok := builtin[tag]
	return p, ok
}

// Tags lists the built-in provider tags in sorted order.
func Tags() []string {
	tags := make([]string, 0, len(builtin))
	for t := range builtin {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Command is a resolved, spawnable agent invocation.
type Command struct {
	Provider Provider
	Path     string
	Args     []string
	Env      []string
}

// ResolutionError names the dependency that could not be located and how
// to install it. It matches agentbridge.ErrUnavailable, or
// agentbridge.ErrNotConfigured when a configured path is bad.
type ResolutionError struct {
	Provider   string
	Dependency string
	Hint       string
	Err        error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Dependency)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	if e.Err == nil {
		return agentbridge.ErrUnavailable
	}
	return e.Err
}

// ErrVersionMismatch is returned by Validate when the version output does
// not identify the expected provider.
var ErrVersionMismatch = errors.New("version output does not match provider")

// ErrUnknownProvider is returned for tags with no Provider row.
var ErrUnknownProvider = fmt.Errorf("%w: unknown provider", agentbridge.ErrNotConfigured)
