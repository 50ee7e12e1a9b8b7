package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/pkg/config"
)

// FromCommand assembles an App for a CLI command. It resolves configuration
// through the viper precedence chain (flags > env > config.toml > defaults),
// binding the given registry keys from the command's flag set.
func FromCommand(ctx context.Context, cmd *cobra.Command, flagKeys []string) (*App, error) {
	cfg, err := ResolveConfig(cmd, flagKeys)
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg, NewLogger(cfg.Log))
}

// ResolveConfig materializes the effective config for a CLI command without
// opening any stores.
func ResolveConfig(cmd *cobra.Command, flagKeys []string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}

	config.BindRegisteredFlags(v, cmd, config.DefaultFlagSet, flagKeys)

	cfg := config.ConfigFromViper(v)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}

	return cfg, nil
}
