package app

import (
	"log/slog"

	"github.com/mnemohq/mnemo/pkg/config"
	"github.com/mnemohq/mnemo/pkg/logger"
)

// NewLogger builds a logger from the log section of the config.
func NewLogger(lc config.LogConfig) *slog.Logger {
	var opts []logger.Option

	if lc.Level == "debug" {
		opts = append(opts, logger.WithDebug(true))
	}

	switch lc.Format {
	case "json":
		opts = append(opts, logger.WithJSON(true))
	case "pretty":
		opts = append(opts, logger.WithPretty(true))
	}

	return logger.New(opts...)
}
