package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blefit/pkg/config"
)

var cliLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// loadSettings reads --config (defaults when unset) and builds the command logger.
//
// The log level comes from --log-level, then from the config file's log_level. A command run
// without either logs nothing, so table output stays clean.
func loadSettings(cmd *cobra.Command) (cfg *config.Config, cfgPath string, logger *logrus.Logger, err error) {
	cfgPath, _ = cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfg = config.DefaultConfig()
	} else if cfg, err = config.Load(cfgPath); err != nil {
		return nil, "", nil, err
	}

	level, _ := cmd.Flags().GetString("log-level")
	silent := level == "" && cfgPath == ""
	if level != "" {
		if !cliLogLevels[level] {
			return nil, "", nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
		}
		cfg.LogLevel = level
	}

	logger = cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	if silent {
		logger.SetLevel(logrus.PanicLevel)
	}
	return cfg, cfgPath, logger, nil
}
