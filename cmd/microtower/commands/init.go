package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/microtower/internal/cli/prompt"
	"github.com/marmos91/microtower/internal/demo"
	"github.com/marmos91/microtower/pkg/config"
	"github.com/marmos91/microtower/pkg/session"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a microtower configuration file.

By default the file is created at $XDG_CONFIG_HOME/microtower/config.yaml.
Use --config to choose another path and --interactive to pick the exposed
services, ports and framing.

Examples:
  microtower init
  microtower init --interactive
  microtower init --config /etc/microtower/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		var err error
		if cfg, err = promptConfig(cfg); err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("init aborted")
			}
			return err
		}
	}

	if err := config.WriteConfig(cfg, path, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Review the services section of the configuration file")
	_, _ = fmt.Fprintln(out, "  2. Inspect the creation order with: microtower plan")
	_, _ = fmt.Fprintf(out, "  3. Start the services with: microtower start --config %s\n", path)
	return nil
}

func promptConfig(cfg *config.Config) (*config.Config, error) {
	level, err := prompt.Select("Log level", []string{"INFO", "DEBUG", "WARN", "ERROR"})
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = level

	if cfg.Metrics.Enabled, err = prompt.Confirm("Expose Prometheus metrics", true); err != nil {
		return nil, err
	}
	if cfg.Admin.Enabled, err = prompt.Confirm("Start the admin API", true); err != nil {
		return nil, err
	}
	if cfg.Admin.Enabled {
		if cfg.Admin.Port, err = prompt.InputPort("Admin API port", cfg.Admin.Port, false); err != nil {
			return nil, err
		}
	}

	framing, err := prompt.Select("Framing", session.FramingNames)
	if err != nil {
		return nil, err
	}

	cfg.Services = nil
	for i, kind := range demo.Kinds() {
		expose, err := prompt.Confirm(fmt.Sprintf("Expose the %s service", kind), true)
		if err != nil {
			return nil, err
		}
		if !expose {
			continue
		}
		port, err := prompt.InputPort(fmt.Sprintf("Port for %s (0 picks a free port)", kind), 7000+i, true)
		if err != nil {
			return nil, err
		}
		cfg.Services = append(cfg.Services, config.ServiceConfig{
			Name:    kind,
			Kind:    kind,
			Port:    port,
			Framing: framing,
		})
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
