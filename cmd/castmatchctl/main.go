package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/castmatch/castmatch-server/internal/config"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "castmatchctl",
	Short: "CastMatch conversation service operator CLI",
	Long: `castmatchctl manages the CastMatch conversation service.

Examples:
  # Database migrations
  castmatchctl migrate up
  castmatchctl migrate down --steps 1

  # AI rate limits
  castmatchctl ratelimit status user-123 --role producer
  castmatchctl ratelimit reset user-123 --role producer

  # Configuration
  castmatchctl config schema -o config.schema.json`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadEnvFiles()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(ratelimitCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
}
