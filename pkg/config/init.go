package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# microtower Configuration File
#
# Every value can be overridden with an environment variable using the
# MICROTOWER_ prefix, e.g. MICROTOWER_LOGGING_LEVEL=DEBUG.
#
# services[].kind selects the implementation: echo, parse, upper, sum.
# services[].framing: short-read (default), length-prefixed, newline.
# services[].codec: json (default), xdr.

`

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(GetDefaultConfig(), path, force)
}

// WriteConfig writes cfg to path with the explanatory header. An existing
// file is only replaced when force is set.
func WriteConfig(cfg *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := GenerateYAML(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateYAML renders cfg as a commented YAML document.
func GenerateYAML(cfg *Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte(configHeader), body...), nil
}
