package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/config/convert"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// EnvPrefix marks environment variables that override the config file.
// RATEBOOK_LOCKS_TTL overrides "locks.ttl".
const EnvPrefix = "RATEBOOK_"

const fileName = "config.toml"

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore keeps settings in a TOML file with one table per section.
// Environment variables are read once per Load and shadow file values.
type ConfigStore struct {
	mu      sync.RWMutex
	path    string
	environ func() []string
	stored  map[string]any
	env     map[string]string
}

// Option configures a ConfigStore.
type Option func(*ConfigStore)

// WithEnviron replaces os.Environ as the source of overrides.
func WithEnviron(environ func() []string) Option {
	return func(s *ConfigStore) { s.environ = environ }
}

// NewConfigStore opens configDir/config.toml, creating the directory if
// needed. An empty configDir means ~/.ratebook.
func NewConfigStore(configDir string, opts ...Option) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".ratebook")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, err
	}

	s := &ConfigStore{
		path:    filepath.Join(configDir, fileName),
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.env[key]; ok {
		return v, true
	}
	v, ok := s.stored[key]
	return v, ok
}

func (s *ConfigStore) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := convert.String(v)
	return str
}

func (s *ConfigStore) GetInt(key string) int {
	v, _ := s.Get(key)
	n, _ := convert.Int(v)
	return n
}

func (s *ConfigStore) GetDuration(key string) (time.Duration, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return convert.Duration(v)
}

func (s *ConfigStore) GetStringSlice(key string) []string {
	v, _ := s.Get(key)
	items, _ := convert.StringSlice(v)
	return items
}

func (s *ConfigStore) Origin(key string) domain.SettingOrigin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.env[key]; ok {
		return domain.OriginEnv
	}
	if _, ok := s.stored[key]; ok {
		return domain.OriginConfig
	}
	return domain.OriginDefault
}

func (s *ConfigStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.stored)+len(s.env))
	for k := range s.stored {
		keys = append(keys, k)
	}
	for k := range s.env {
		if _, ok := s.stored[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Set writes to the file layer. An environment override for the same
// key keeps winning until the variable is cleared.
func (s *ConfigStore) Set(key string, value any) error {
	if _, _, ok := splitKey(key); !ok {
		return fmt.Errorf("config key %q must look like section.field", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored[key] = value
	return nil
}

func (s *ConfigStore) Unset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stored, key)
	return nil
}

// Save writes the file layer, grouping keys into tables by section.
func (s *ConfigStore) Save() error {
	s.mu.RLock()
	tables := make(map[string]map[string]any)
	for key, value := range s.stored {
		section, field, _ := splitKey(key)
		if tables[section] == nil {
			tables[section] = make(map[string]any)
		}
		tables[section][field] = value
	}
	s.mu.RUnlock()

	data, err := toml.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Load rereads the file and snapshots the environment. A missing file
// is an empty config.
func (s *ConfigStore) Load() error {
	stored := make(map[string]any)
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		var tables map[string]any
		if err := toml.Unmarshal(data, &tables); err != nil {
			return fmt.Errorf("parsing %s: %w", s.path, err)
		}
		for section, raw := range tables {
			fields, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("parsing %s: %q must be a table", s.path, section)
			}
			for field, value := range fields {
				stored[section+"."+field] = value
			}
		}
	}

	env := make(map[string]string)
	for _, kv := range s.environ() {
		name, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		if key, ok := envKey(name); ok {
			env[key] = value
		}
	}

	s.mu.Lock()
	s.stored, s.env = stored, env
	s.mu.Unlock()
	return nil
}

func (s *ConfigStore) Path() string {
	return s.path
}

// EnvName returns the variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// envKey maps RATEBOOK_STORAGE_DATA_DIR to "storage.data_dir". Section
// names never contain underscores, so the first one splits the key.
func envKey(name string) (string, bool) {
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, field, ok := strings.Cut(rest, "_")
	if !ok || section == "" || field == "" {
		return "", false
	}
	return section + "." + field, true
}

func splitKey(key string) (section, field string, ok bool) {
	section, field, ok = strings.Cut(key, ".")
	return section, field, ok && section != "" && field != "" && !strings.Contains(field, ".")
}
