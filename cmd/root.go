package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var rootCmd = &cobra.Command{
	Use:   "firelite",
	Short: "firelite - realtime document store",
	Long: `A single-binary document store with a REST API and a websocket protocol
for watching documents and queries as they change.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("firelite version {{.Version}}\n")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ./firelite.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
