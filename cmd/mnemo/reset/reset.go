// Package resetcmder provides the reset command, which drops and recreates
// the relational schema.
package resetcmder

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/pkg/app"
	"github.com/mnemohq/mnemo/pkg/cliui"
	"github.com/mnemohq/mnemo/pkg/config"
)

const resetLongDesc string = `Drop and recreate the relational schema.

Destroys every mirrored memory, history event, role, and transcript link,
then recreates the empty tables. The primary store is untouched; run
"mnemo sync" afterwards to rebuild the mirror from it.

Examples:
  mnemo reset --yes
  mnemo reset --sqlite ./mnemo.db --yes`

const resetShortDesc string = "Drop and recreate the relational schema"

type ResetCommander struct {
	dialect  string
	sqlite   string
	postgres string
	yes      bool
}

func NewResetCmd() *cobra.Command {
	cmder := &ResetCommander{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: resetShortDesc,
		Long:  resetLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagDialect, &cmder.dialect)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagPostgres, &cmder.postgres)

	cmd.Flags().BoolVar(&cmder.yes, "yes", false, "Skip the confirmation prompt")

	return cmd
}

func (c *ResetCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	if !c.yes {
		return errors.New("reset destroys all mirrored data; re-run with --yes to confirm")
	}

	a, err := app.FromCommand(ctx, cmd, []string{
		config.FlagDialect, config.FlagSQLite, config.FlagPostgres,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	err = cliui.Step(os.Stdout, "Resetting relational schema", func() error {
		return a.DB.Reset(ctx)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s Schema reset\n\n", cliui.SuccessMark)
	return nil
}
