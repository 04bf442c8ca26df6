package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/castmatch/castmatch-server/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
	Long:  `Validate the environment configuration or export its JSON Schema.`,
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON Schema",
	RunE:  runConfigSchema,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration from the environment",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configSchemaCmd)
	configCmd.AddCommand(configValidateCmd)

	configSchemaCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	data, err := config.Schema().MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema written to %s\n", output)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (storage=%s, ai_provider=%s, redis=%t, nats=%t)\n",
		cfg.StorageDriver, cfg.AIProvider, cfg.RedisURL != "", cfg.NATSURL != "")
	return nil
}
