package file

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/fileutil"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

const fileName = "config.toml"

// ConfigStore holds the flattened settings of one config.toml.
type ConfigStore struct {
	path string

	mu     sync.RWMutex
	values map[string]any
}

// NewConfigStore opens dir/config.toml, creating dir if needed. An empty
// dir means ~/.nestsync. A missing file is an empty configuration.
func NewConfigStore(dir string) (*ConfigStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		dir = filepath.Join(home, ".nestsync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	s := &ConfigStore{path: filepath.Join(dir, fileName)}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *ConfigStore) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// GetInt reads TOML integers, which decode as int64.
func (s *ConfigStore) GetInt(key string) int {
	v, _ := s.Get(key)
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func (s *ConfigStore) GetBool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

// GetDuration reads "90s" style strings; a bare integer is seconds.
func (s *ConfigStore) GetDuration(key string) time.Duration {
	v, _ := s.Get(key)
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0
		}
		return parsed
	case int64:
		return time.Duration(d) * time.Second
	case int:
		return time.Duration(d) * time.Second
	case time.Duration:
		return d
	}
	return 0
}

func (s *ConfigStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Set changes the in-memory value only.
func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Save rewrites config.toml atomically with mode 0600.
func (s *ConfigStore) Save() error {
	s.mu.RLock()
	data, err := toml.Marshal(nestMap(s.values))
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", fileName, err)
	}
	return fileutil.WriteAtomic(s.path, data, 0o600)
}

// Load replaces the in-memory values with the file's contents.
func (s *ConfigStore) Load() error {
	values := make(map[string]any)

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("reading %s: %w", s.path, err)
	default:
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("parsing %s: %w", s.path, err)
		}
		values = flattenMap(tree, "")
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func (s *ConfigStore) Path() string {
	return s.path
}

// flattenMap turns {"a": {"b": 1}} into {"a.b": 1}.
func flattenMap(tree map[string]any, prefix string) map[string]any {
	flat := make(map[string]any)
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if table, ok := value.(map[string]any); ok {
			maps.Copy(flat, flattenMap(table, key))
			continue
		}
		flat[key] = value
	}
	return flat
}

// nestMap reverses flattenMap.
func nestMap(flat map[string]any) map[string]any {
	tree := make(map[string]any)
	for key, value := range flat {
		node := tree
		parts := strings.Split(key, ".")
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return tree
}
