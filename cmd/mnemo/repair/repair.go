// Package repaircmder provides the repair command, which runs the role
// reference repair pass against the relational mirror.
package repaircmder

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/pkg/app"
	"github.com/mnemohq/mnemo/pkg/cliui"
	"github.com/mnemohq/mnemo/pkg/config"
)

const repairLongDesc string = `Run the role reference repair pass.

Scans the role table for corrupted (mojibake) role names, remaps memories
pointing at them to the canonical role, and re-infers or clears role
references that point at roles that no longer exist. The same pass runs
automatically at startup; this command runs it on demand.

Examples:
  mnemo repair
  mnemo repair --sqlite ./mnemo.db
  mnemo repair --dialect pgx --postgres postgres://localhost/mnemo`

const repairShortDesc string = "Repair corrupted and orphaned role references"

type RepairCommander struct {
	dialect  string
	sqlite   string
	postgres string
}

func NewRepairCmd() *cobra.Command {
	cmder := &RepairCommander{}

	cmd := &cobra.Command{
		Use:   "repair",
		Short: repairShortDesc,
		Long:  repairLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagDialect, &cmder.dialect)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagPostgres, &cmder.postgres)

	return cmd
}

func (c *RepairCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := app.FromCommand(ctx, cmd, []string{
		config.FlagDialect, config.FlagSQLite, config.FlagPostgres,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	// App startup already ran one pass; run again explicitly so the
	// command reports a clean completion even on a fresh database.
	err = cliui.Step(os.Stdout, "Repairing role references", func() error {
		a.Roles.FixOrphanedRoleReferences(ctx)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s Repair pass complete\n\n", cliui.SuccessMark)
	return nil
}
