package services

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keyStorageBackend   = "storage.backend"
	keyStorageDataDir   = "storage.data_dir"
	keyEventsBackend    = "events.backend"
	keyEventsRedisAddr  = "events.redis_addr"
	keyEventsChannel    = "events.channel"
	keyLocksBackend     = "locks.backend"
	keyLocksRedisAddr   = "locks.redis_addr"
	keyLocksTTL         = "locks.ttl"
	keyApprovalRoles    = "approval.required_roles"
	keyRatingParallel   = "rating.parallelism"
	keyHTTPAddr         = "http.addr"
	maxRatingParallel   = 64
	defaultRedisAddress = "127.0.0.1:6379"
)

// settingKeys lists every key Get reads, in display order.
var settingKeys = []string{
	keyStorageBackend, keyStorageDataDir,
	keyEventsBackend, keyEventsRedisAddr, keyEventsChannel,
	keyLocksBackend, keyLocksRedisAddr, keyLocksTTL,
	keyApprovalRoles,
	keyRatingParallel,
	keyHTTPAddr,
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings. Unset or unrecognised values
// fall back to defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Storage: domain.StorageSettings{
			Backend: s.getStorageBackend(defaults.Storage.Backend),
			DataDir: s.configStore.GetString(keyStorageDataDir), // Empty means ~/.ratebook/data
		},
		Events: domain.EventSettings{
			Backend:   s.getEventsBackend(defaults.Events.Backend),
			RedisAddr: s.getString(keyEventsRedisAddr, defaultRedisAddress),
			Channel:   s.getString(keyEventsChannel, defaults.Events.Channel),
		},
		Locks: domain.LockSettings{
			Backend:   s.getLockBackend(defaults.Locks.Backend),
			RedisAddr: s.getString(keyLocksRedisAddr, defaultRedisAddress),
			TTL:       s.getDuration(keyLocksTTL, defaults.Locks.TTL),
		},
		Approval: domain.ApprovalSettings{
			RequiredRoles: s.getRoles(defaults.Approval.RequiredRoles),
		},
		Rating: domain.RatingSettings{
			Parallelism: s.getInt(keyRatingParallel, defaults.Rating.Parallelism),
		},
		HTTP: domain.HTTPSettings{
			Addr: s.getString(keyHTTPAddr, defaults.HTTP.Addr),
		},
	}

	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{keyStorageBackend, string(settings.Storage.Backend)},
		{keyStorageDataDir, settings.Storage.DataDir},
		{keyEventsBackend, string(settings.Events.Backend)},
		{keyEventsRedisAddr, settings.Events.RedisAddr},
		{keyEventsChannel, settings.Events.Channel},
		{keyLocksBackend, string(settings.Locks.Backend)},
		{keyLocksRedisAddr, settings.Locks.RedisAddr},
		{keyLocksTTL, settings.Locks.TTL.String()},
		{keyApprovalRoles, settings.Approval.RequiredRoles},
		{keyRatingParallel, settings.Rating.Parallelism},
		{keyHTTPAddr, settings.HTTP.Addr},
	}
	for _, kv := range values {
		if err := s.configStore.Set(kv.key, kv.value); err != nil {
			return fmt.Errorf("setting %s: %w", kv.key, err)
		}
	}
	return s.configStore.Save()
}

// SetApprovalRoles replaces the approving roles. Roles are trimmed and
// de-duplicated; at least one is required.
func (s *SettingsService) SetApprovalRoles(roles []string) error {
	cleaned := cleanRoles(roles)
	if len(cleaned) == 0 {
		return domain.NewValidationError("approval.required_roles", "at least one role is required")
	}
	if err := s.configStore.Set(keyApprovalRoles, cleaned); err != nil {
		return err
	}
	return s.configStore.Save()
}

// SetStorageBackend selects the persistence backend.
func (s *SettingsService) SetStorageBackend(backend domain.StorageBackend, dataDir string) error {
	if !backend.IsValid() {
		return domain.NewValidationError("storage.backend", "unknown backend %q", backend)
	}
	if err := s.configStore.Set(keyStorageBackend, string(backend)); err != nil {
		return err
	}
	if dataDir != "" {
		if err := s.configStore.Set(keyStorageDataDir, dataDir); err != nil {
			return err
		}
	}
	return s.configStore.Save()
}

// Validate checks raw config values. Unlike Get it reports bad values
// instead of masking them with defaults.
func (s *SettingsService) Validate() error {
	if raw := s.configStore.GetString(keyStorageBackend); raw != "" && !domain.StorageBackend(raw).IsValid() {
		return domain.NewValidationError(keyStorageBackend, "unknown backend %q", raw)
	}
	if raw := s.configStore.GetString(keyEventsBackend); raw != "" && !domain.EventsBackend(raw).IsValid() {
		return domain.NewValidationError(keyEventsBackend, "unknown backend %q", raw)
	}
	if raw := s.configStore.GetString(keyLocksBackend); raw != "" && !domain.LockBackend(raw).IsValid() {
		return domain.NewValidationError(keyLocksBackend, "unknown backend %q", raw)
	}
	if raw, ok := s.configStore.Get(keyLocksTTL); ok {
		if ttl, ok := s.configStore.GetDuration(keyLocksTTL); !ok || ttl <= 0 {
			return domain.NewValidationError(keyLocksTTL, "%v is not a positive duration", raw)
		}
	}
	if _, ok := s.configStore.Get(keyApprovalRoles); ok && len(cleanRoles(s.configStore.GetStringSlice(keyApprovalRoles))) == 0 {
		return domain.NewValidationError(keyApprovalRoles, "at least one role is required")
	}
	if _, ok := s.configStore.Get(keyRatingParallel); ok {
		if n := s.configStore.GetInt(keyRatingParallel); n < 1 || n > maxRatingParallel {
			return domain.NewValidationError(keyRatingParallel, "must be between 1 and %d", maxRatingParallel)
		}
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	if settings.Events.Backend == domain.EventsRedis && settings.Events.Channel == "" {
		return domain.NewValidationError(keyEventsChannel, "redis events need a channel")
	}
	return nil
}

// Sources reports every known setting's effective value and the layer
// that supplied it. Keys in the config that ratebook does not read are
// listed last with their raw value.
func (s *SettingsService) Sources() ([]domain.SettingSource, error) {
	settings, err := s.Get()
	if err != nil {
		return nil, err
	}
	effective := map[string]string{
		keyStorageBackend:  string(settings.Storage.Backend),
		keyStorageDataDir:  settings.Storage.DataDir,
		keyEventsBackend:   string(settings.Events.Backend),
		keyEventsRedisAddr: settings.Events.RedisAddr,
		keyEventsChannel:   settings.Events.Channel,
		keyLocksBackend:    string(settings.Locks.Backend),
		keyLocksRedisAddr:  settings.Locks.RedisAddr,
		keyLocksTTL:        settings.Locks.TTL.String(),
		keyApprovalRoles:   strings.Join(settings.Approval.RequiredRoles, ","),
		keyRatingParallel:  strconv.Itoa(settings.Rating.Parallelism),
		keyHTTPAddr:        settings.HTTP.Addr,
	}

	sources := make([]domain.SettingSource, 0, len(settingKeys))
	for _, key := range settingKeys {
		sources = append(sources, domain.SettingSource{
			Key:    key,
			Value:  effective[key],
			Origin: s.configStore.Origin(key),
		})
	}
	for _, key := range s.configStore.Keys() {
		if _, known := effective[key]; known {
			continue
		}
		raw, _ := s.configStore.Get(key)
		sources = append(sources, domain.SettingSource{
			Key:    key,
			Value:  fmt.Sprint(raw),
			Origin: s.configStore.Origin(key),
		})
	}
	return sources, nil
}

// Unset removes key from the config so its default applies again.
func (s *SettingsService) Unset(key string) error {
	if _, ok := s.configStore.Get(key); !ok && !slices.Contains(settingKeys, key) {
		return domain.NewValidationError("key", "unknown setting %q", key)
	}
	if err := s.configStore.Unset(key); err != nil {
		return err
	}
	return s.configStore.Save()
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// Helper methods

func (s *SettingsService) getString(key, defaultVal string) string {
	if val := s.configStore.GetString(key); val != "" {
		return val
	}
	return defaultVal
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	if val := s.configStore.GetInt(key); val > 0 && val <= maxRatingParallel {
		return val
	}
	return defaultVal
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	if d, ok := s.configStore.GetDuration(key); ok && d > 0 {
		return d
	}
	return defaultVal
}

func (s *SettingsService) getRoles(defaultVal []string) []string {
	if roles := cleanRoles(s.configStore.GetStringSlice(keyApprovalRoles)); len(roles) > 0 {
		return roles
	}
	return defaultVal
}

func (s *SettingsService) getStorageBackend(defaultVal domain.StorageBackend) domain.StorageBackend {
	if b := domain.StorageBackend(s.configStore.GetString(keyStorageBackend)); b.IsValid() {
		return b
	}
	return defaultVal
}

func (s *SettingsService) getEventsBackend(defaultVal domain.EventsBackend) domain.EventsBackend {
	if b := domain.EventsBackend(s.configStore.GetString(keyEventsBackend)); b.IsValid() {
		return b
	}
	return defaultVal
}

func (s *SettingsService) getLockBackend(defaultVal domain.LockBackend) domain.LockBackend {
	if b := domain.LockBackend(s.configStore.GetString(keyLocksBackend)); b.IsValid() {
		return b
	}
	return defaultVal
}

func cleanRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
