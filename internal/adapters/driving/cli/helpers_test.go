package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ratebook/internal/core/services"
)

// testActor is the identity every execute starts from unless the args
// pass --actor.
var testActor string

// setupTestServices wires in-memory services and restores the package
// state when the test ends.
func setupTestServices(t *testing.T) {
	t.Helper()
	configStore, err := file.NewConfigStore(t.TempDir(), file.WithEnviron(func() []string { return nil }))
	require.NoError(t, err)
	store := memory.NewStore()
	SetServices(Services{
		Versions:   services.NewVersionService(store),
		ChangeSets: services.NewChangeSetService(store),
		Rating:     services.NewRatingService(nil, store, nil, 2),
		Settings:   services.NewSettingsService(configStore),
	})
	testActor = "ana"
	actor = testActor
	t.Cleanup(func() {
		SetServices(Services{})
		testActor = ""
		actor = defaultActor()
	})
}

// resetFlags returns every flag to its default so state does not leak
// between executions of the shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	// --actor defaults to the environment; pin the test identity.
	if testActor != "" {
		actor = testActor
	}
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

// executeJSON runs args with --json and decodes the output into out.
func executeJSON(t *testing.T, out any, args ...string) {
	t.Helper()
	output, err := execute(t, append(args, "--json")...)
	require.NoError(t, err, output)
	require.NoError(t, json.Unmarshal([]byte(output), out), output)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
