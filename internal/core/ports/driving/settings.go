package driving

import "github.com/custodia-labs/ratebook/internal/core/domain"

// SettingsService reads and updates ratebook's configuration. Reads never
// fail on bad values; they fall back to defaults and Validate reports them.
type SettingsService interface {
	Get() (*domain.AppSettings, error)
	Save(settings *domain.AppSettings) error

	// SetApprovalRoles replaces the roles that must all sign a change set.
	SetApprovalRoles(roles []string) error
	SetStorageBackend(backend domain.StorageBackend, dataDir string) error

	// Sources lists each setting with its effective value and origin.
	Sources() ([]domain.SettingSource, error)

	// Unset drops a stored value so the default applies again.
	Unset(key string) error

	Validate() error
	GetDefaults() domain.AppSettings
}
