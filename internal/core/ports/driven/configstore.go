package driven

import (
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

// ConfigStore is a flat view over layered configuration. Keys have the
// form "section.field", e.g. "locks.ttl". Environment overrides shadow
// stored values; Set and Unset only touch the stored layer.
type ConfigStore interface {
	// Get returns the effective raw value for key.
	Get(key string) (any, bool)

	// GetString returns "" when key is unset or not a string.
	GetString(key string) string

	// GetInt accepts integers and numeric strings. Returns 0 otherwise.
	GetInt(key string) int

	// GetDuration parses Go duration strings; bare integers are seconds.
	// ok is false when key is unset or unparseable.
	GetDuration(key string) (d time.Duration, ok bool)

	// GetStringSlice accepts arrays and comma separated strings.
	GetStringSlice(key string) []string

	// Origin reports which layer supplies key.
	Origin(key string) domain.SettingOrigin

	// Keys lists every key with a value in any layer, sorted.
	Keys() []string

	Set(key string, value any) error
	Unset(key string) error

	// Save persists the stored layer. Load rereads it.
	Save() error
	Load() error

	// Path is where the stored layer lives.
	Path() string
}
