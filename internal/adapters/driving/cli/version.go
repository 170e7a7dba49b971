package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versionInfo{
			Version:   version,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		if jsonOutput {
			return printJSON(cmd, info)
		}
		cmd.Printf("ratebook version %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
		return nil
	},
}

func init() {
	addJSONFlag(versionCmd)
	rootCmd.AddCommand(versionCmd)
}
