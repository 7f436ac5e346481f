package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/viper"
)

// Store is the user settings file. Values set with Set are visible to Get
// immediately and reach disk on Save. Keys are case-insensitive and may be
// dotted ("models.claude"). Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// OpenStore loads the JSON settings file at path. A missing file yields an
// empty store that Save will create.
func OpenStore(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: read settings %s: %w", path, err)
	}
	return &Store{v: v, path: path}, nil
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Get returns the value for key and whether it is set.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return nil, false
	}
	return s.v.Get(key), true
}

// Set stores value under key in memory.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// Save writes all settings to disk, creating the parent directory.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("config: create settings dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	return nil
}

// Keys returns every set key, flattened and sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.v.AllKeys()
	sort.Strings(keys)
	return keys
}
