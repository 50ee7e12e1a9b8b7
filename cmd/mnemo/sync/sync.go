// Package synccmder provides the sync command, which backfills the
// relational mirror from the primary store.
package synccmder

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/pkg/app"
	"github.com/mnemohq/mnemo/pkg/cliui"
	"github.com/mnemohq/mnemo/pkg/config"
)

const syncLongDesc string = `Backfill the relational mirror from the primary store.

Lists every record in the primary store and mirrors any that the relational
store does not know about yet, including role resolution and an ADD history
event. Records already mirrored are skipped, so the command is safe to run
repeatedly.

Examples:
  mnemo sync --primary-provider chroma --primary-target http://localhost:8000`

const syncShortDesc string = "Backfill the relational mirror from the primary store"

type SyncCommander struct {
	dialect         string
	sqlite          string
	postgres        string
	primaryProvider string
	primaryTarget   string
	collection      string
}

func NewSyncCmd() *cobra.Command {
	cmder := &SyncCommander{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: syncShortDesc,
		Long:  syncLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagDialect, &cmder.dialect)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagPostgres, &cmder.postgres)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagPrimaryProvider, &cmder.primaryProvider)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagPrimaryTarget, &cmder.primaryTarget)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagCollection, &cmder.collection)

	return cmd
}

func (c *SyncCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := app.FromCommand(ctx, cmd, []string{
		config.FlagDialect, config.FlagSQLite, config.FlagPostgres,
		config.FlagPrimaryProvider, config.FlagPrimaryTarget, config.FlagCollection,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	var synced int
	err = cliui.Step(os.Stdout, "Backfilling relational mirror", func() error {
		var stepErr error
		synced, stepErr = a.Coordinator.SyncExistingMemories(ctx)
		return stepErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s Backfilled %d memories\n\n", cliui.SuccessMark, synced)
	return nil
}
