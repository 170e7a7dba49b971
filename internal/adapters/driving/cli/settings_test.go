package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/services"
)

func TestSettingsShow_Defaults(t *testing.T) {
	setupTestServices(t)

	out, err := execute(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "Backend: memory")
	assert.Contains(t, out, "Required roles: product_manager, compliance")
	assert.Contains(t, out, "Address: 127.0.0.1:8080")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestSettingsRoles(t *testing.T) {
	setupTestServices(t)

	out, err := execute(t, "settings", "roles", "product_manager", "actuary")
	require.NoError(t, err)
	assert.Contains(t, out, "Approval roles set to: product_manager, actuary")

	settings, err := settingsService.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"product_manager", "actuary"}, settings.Approval.RequiredRoles)
}

func TestSettingsRoles_RequiresArgument(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "settings", "roles")

	assert.Error(t, err)
}

func TestSettingsStorage(t *testing.T) {
	setupTestServices(t)
	dataDir := t.TempDir()

	out, err := execute(t, "settings", "storage", "sqlite", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Storage backend set to: sqlite")

	settings, err := settingsService.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.StorageSQLite, settings.Storage.Backend)
	assert.Equal(t, dataDir, settings.Storage.DataDir)

	out, err = execute(t, "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Data dir: "+dataDir)
}

func TestSettingsStorage_UnknownBackend(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "settings", "storage", "postgres")

	assert.Error(t, err)
}

func TestSettingsWizard(t *testing.T) {
	setupTestServices(t)
	input := strings.Join([]string{
		"1",                       // storage: memory
		"3",                       // events: redis
		"redis.internal:6379",     // redis address
		"",                        // channel default
		"",                        // locks: keep memory
		"pm, compliance  actuary", // roles
	}, "\n") + "\n"
	rootCmd.SetIn(strings.NewReader(input))

	out, err := execute(t, "settings", "wizard")

	require.NoError(t, err)
	assert.Contains(t, out, "Configuration Complete!")
	settings, err := settingsService.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.StorageMemory, settings.Storage.Backend)
	assert.Equal(t, domain.EventsRedis, settings.Events.Backend)
	assert.Equal(t, "redis.internal:6379", settings.Events.RedisAddr)
	assert.Equal(t, "ratebook.events", settings.Events.Channel)
	assert.Equal(t, domain.LockMemory, settings.Locks.Backend)
	assert.Equal(t, []string{"pm", "compliance", "actuary"}, settings.Approval.RequiredRoles)
}

func TestSettingsSources_ReportsOrigins(t *testing.T) {
	setupTestServices(t)
	store, err := file.NewConfigStore(t.TempDir(), file.WithEnviron(func() []string {
		return []string{"RATEBOOK_LOCKS_TTL=1m"}
	}))
	require.NoError(t, err)
	require.NoError(t, store.Set("http.addr", ":9090"))
	SetServices(Services{Settings: services.NewSettingsService(store)})

	var sources []domain.SettingSource
	executeJSON(t, &sources, "settings", "sources")

	origins := make(map[string]domain.SettingSource)
	for _, src := range sources {
		origins[src.Key] = src
	}
	assert.Equal(t, domain.SettingSource{Key: "locks.ttl", Value: "1m0s", Origin: domain.OriginEnv}, origins["locks.ttl"])
	assert.Equal(t, domain.OriginConfig, origins["http.addr"].Origin)
	assert.Equal(t, domain.OriginDefault, origins["storage.backend"].Origin)

	out, err := execute(t, "settings", "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "locks.ttl")
	assert.Contains(t, out, "env")
}

func TestSettingsUnset(t *testing.T) {
	setupTestServices(t)
	_, err := execute(t, "settings", "roles", "actuary")
	require.NoError(t, err)

	out, err := execute(t, "settings", "unset", "approval.required_roles")
	require.NoError(t, err)
	assert.Contains(t, out, "Unset approval.required_roles")

	settings, err := settingsService.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultApprovalRoles(), settings.Approval.RequiredRoles)

	_, err = execute(t, "settings", "unset", "bogus.key")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSettings_WithoutService(t *testing.T) {
	SetServices(Services{})

	_, err := execute(t, "settings", "show")

	assert.EqualError(t, err, "settings service not configured")
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		maxVal     int
		defaultVal int
		expected   int
	}{
		{
			name:       "Empty input returns default",
			input:      "",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Valid choice within range",
			input:      "3",
			maxVal:     5,
			defaultVal: 1,
			expected:   3,
		},
		{
			name:       "Choice below minimum returns default",
			input:      "0",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Choice above maximum returns default",
			input:      "6",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Invalid input returns default",
			input:      "abc",
			maxVal:     5,
			defaultVal: 2,
			expected:   2,
		},
		{
			name:       "Negative number returns default",
			input:      "-1",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Whitespace returns default",
			input:      "   ",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Maximum value is valid",
			input:      "5",
			maxVal:     5,
			defaultVal: 1,
			expected:   5,
		},
		{
			name:       "Minimum value is valid",
			input:      "1",
			maxVal:     5,
			defaultVal: 3,
			expected:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseChoice(tt.input, tt.maxVal, tt.defaultVal)
			assert.Equal(t, tt.expected, result)
		})
	}
}
