package domain

import "time"

// StorageBackend selects where versions and change sets are persisted.
type StorageBackend string

// Available storage backends.
const (
	// StorageMemory keeps everything in process memory.
	StorageMemory StorageBackend = "memory"

	// StorageSQLite persists to a SQLite database under the data directory.
	StorageSQLite StorageBackend = "sqlite"
)

// IsValid returns true if the backend is recognised.
func (b StorageBackend) IsValid() bool {
	return b == StorageMemory || b == StorageSQLite
}

// EventsBackend selects where post-commit events are delivered.
type EventsBackend string

// Available event backends.
const (
	// EventsNone discards events.
	EventsNone EventsBackend = "none"

	// EventsMemory fans events out to in-process subscribers.
	EventsMemory EventsBackend = "memory"

	// EventsRedis publishes events to a Redis channel.
	EventsRedis EventsBackend = "redis"
)

// IsValid returns true if the backend is recognised.
func (b EventsBackend) IsValid() bool {
	switch b {
	case EventsNone, EventsMemory, EventsRedis:
		return true
	default:
		return false
	}
}

// LockBackend selects how in-flight transitions are serialised.
type LockBackend string

// Available lock backends.
const (
	// LockMemory serialises transitions within one process.
	LockMemory LockBackend = "memory"

	// LockRedis serialises transitions across processes sharing a Redis.
	LockRedis LockBackend = "redis"
)

// IsValid returns true if the backend is recognised.
func (b LockBackend) IsValid() bool {
	return b == LockMemory || b == LockRedis
}

// StorageSettings holds persistence configuration.
type StorageSettings struct {
	Backend StorageBackend
	// DataDir is where the SQLite database lives.
	DataDir string
}

// EventSettings holds post-commit event configuration.
type EventSettings struct {
	Backend   EventsBackend
	RedisAddr string
	Channel   string
}

// LockSettings holds in-flight transition lock configuration.
type LockSettings struct {
	Backend   LockBackend
	RedisAddr string
	// TTL bounds how long a crashed holder can block a record.
	TTL time.Duration
}

// ApprovalSettings holds the role gate for change set approval.
type ApprovalSettings struct {
	// RequiredRoles must all sign before a change set becomes approved.
	RequiredRoles []string
}

// RatingSettings holds rating engine configuration.
type RatingSettings struct {
	// Parallelism bounds concurrent evaluations in a batch.
	Parallelism int
}

// HTTPSettings holds HTTP API configuration.
type HTTPSettings struct {
	Addr string
}

// AppSettings holds all application settings.
type AppSettings struct {
	Storage  StorageSettings
	Events   EventSettings
	Locks    LockSettings
	Approval ApprovalSettings
	Rating   RatingSettings
	HTTP     HTTPSettings
}

// DefaultAppSettings returns settings with sensible defaults.
// Everything runs in memory until a config file says otherwise.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Storage: StorageSettings{Backend: StorageMemory},
		Events: EventSettings{
			Backend: EventsMemory,
			Channel: "ratebook.events",
		},
		Locks: LockSettings{
			Backend: LockMemory,
			TTL:     30 * time.Second,
		},
		Approval: ApprovalSettings{
			RequiredRoles: DefaultApprovalRoles(),
		},
		Rating: RatingSettings{Parallelism: 4},
		HTTP:   HTTPSettings{Addr: "127.0.0.1:8080"},
	}
}

// DefaultApprovalRoles returns the roles required when none are configured.
func DefaultApprovalRoles() []string {
	return []string{"product_manager", "compliance"}
}

// SettingOrigin reports which layer supplied a setting's effective value.
type SettingOrigin string

// Setting origins, lowest precedence first.
const (
	OriginDefault SettingOrigin = "default"
	OriginConfig  SettingOrigin = "config"
	OriginEnv     SettingOrigin = "env"
)

// SettingSource is one key's effective value and where it came from.
type SettingSource struct {
	Key    string        `json:"key"`
	Value  string        `json:"value"`
	Origin SettingOrigin `json:"origin"`
}
