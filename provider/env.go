package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Environment is a fixed snapshot of variables used for discovery and
// passed to spawned agents. Later entries override earlier ones.
type Environment struct {
	vars []string
}

// NewEnvironment snapshots base and appends the contents of any dotenv
// files, in order. Missing dotenv files are an error.
func NewEnvironment(base []string, dotenvFiles ...string) (*Environment, error) {
	vars := append([]string(nil), base...)
	for _, f := range dotenvFiles {
		if f == "" {
			continue
		}
		m, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("provider: env file %s: %w", f, err)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			vars = append(vars, k+"="+m[k])
		}
	}
	return &Environment{vars: vars}, nil
}

// FromOS snapshots os.Environ plus dotenvFiles.
func FromOS(dotenvFiles ...string) (*Environment, error) {
	return NewEnvironment(os.Environ(), dotenvFiles...)
}

// Get returns the last value bound to key, or "".
func (e *Environment) Get(key string) string {
	prefix := key + "="
	for i := len(e.vars) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(e.vars[i], prefix); ok {
			return v
		}
	}
	return ""
}

// Home returns $HOME from the snapshot.
func (e *Environment) Home() string { return e.Get("HOME") }

// Environ returns a copy of the snapshot suitable for exec.Cmd.Env.
func (e *Environment) Environ() []string {
	return append([]string(nil), e.vars...)
}

// WithPathPrefix returns Environ with dirs prepended to PATH.
func (e *Environment) WithPathPrefix(dirs ...string) []string {
	env := e.Environ()
	if len(dirs) == 0 {
		return env
	}
	path := strings.Join(dirs, string(filepath.ListSeparator))
	if cur := e.Get("PATH"); cur != "" {
		path += string(filepath.ListSeparator) + cur
	}
	return append(env, "PATH="+path)
}
