package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marmos91/microtower/internal/logger"
)

// WatchLogLevel watches the configuration file at path and calls onChange
// with the new logging.level whenever the file is written and the level
// differs from the previous one. Other settings require a restart.
func WatchLogLevel(path string, onChange func(level string)) error {
	if path == "" {
		return fmt.Errorf("watch log level: config path is required")
	}

	v := viper.New()
	setupViper(v, path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch log level: %w", err)
	}

	current := strings.ToUpper(v.GetString("logging.level"))

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		level := strings.ToUpper(v.GetString("logging.level"))
		if level == "" || level == current {
			return
		}
		if _, ok := logger.ParseLevel(level); !ok {
			logger.Warn("Ignoring invalid log level from config file", "file", e.Name, "level", level)
			return
		}

		logger.Info("Log level changed", "file", e.Name, "from", current, "to", level)
		current = level
		onChange(level)
	})
	v.WatchConfig()

	return nil
}
