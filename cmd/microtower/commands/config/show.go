package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/microtower/internal/cli/output"
	"github.com/marmos91/microtower/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Print the configuration after defaults and MICROTOWER_* environment
overrides were applied.

Examples:
  microtower config show
  microtower config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format).Print(cfg)
}
