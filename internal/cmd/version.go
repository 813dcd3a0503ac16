package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	// Version needs no configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := currentVersion()
		out := cmd.OutOrStdout()
		if versionJSON {
			enc := json.NewEncoder(out)
			return enc.Encode(info)
		}
		_, err := fmt.Fprintf(out, "icenimbus %s\n  commit:     %s\n  built:      %s\n  go version: %s\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}
