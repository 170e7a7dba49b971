package memory

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/config/convert"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore holds settings in process. Save snapshots the working
// values and Load rolls back to the last snapshot, so callers that forget
// to Save are caught by tests.
type ConfigStore struct {
	mu      sync.RWMutex
	working map[string]any
	saved   map[string]any
	saves   int
}

// NewConfigStore returns a store whose saved state is the merged seeds.
func NewConfigStore(seed ...map[string]any) *ConfigStore {
	s := &ConfigStore{working: make(map[string]any)}
	for _, values := range seed {
		maps.Copy(s.working, values)
	}
	s.saved = maps.Clone(s.working)
	return s
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.working[key]
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
	if _, ok := s.Get(key); ok {
		return domain.OriginConfig
	}
	return domain.OriginDefault
}

func (s *ConfigStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.working))
}

func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working[key] = value
	return nil
}

func (s *ConfigStore) Unset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.working, key)
	return nil
}

func (s *ConfigStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = maps.Clone(s.working)
	s.saves++
	return nil
}

func (s *ConfigStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = maps.Clone(s.saved)
	return nil
}

// Saves counts calls to Save.
func (s *ConfigStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *ConfigStore) Path() string { return ":memory:" }
