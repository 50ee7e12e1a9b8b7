// Package mnemocmder
package mnemocmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/mnemohq/mnemo/cmd/mnemo/config"
	listcmder "github.com/mnemohq/mnemo/cmd/mnemo/list"
	repaircmder "github.com/mnemohq/mnemo/cmd/mnemo/repair"
	resetcmder "github.com/mnemohq/mnemo/cmd/mnemo/reset"
	synccmder "github.com/mnemohq/mnemo/cmd/mnemo/sync"
	versioncmder "github.com/mnemohq/mnemo/cmd/mnemo/version"
)

const mnemoLongDesc string = `Mnemo is a dual-store memory layer for your agents.

Inspect and maintain the relational mirror using:
  mnemo list      List mirrored memories with resolved roles
  mnemo repair    Run the role reference repair pass
  mnemo sync      Backfill the mirror from the primary store
  mnemo reset     Drop and recreate the relational schema`

const mnemoShortDesc string = "Mnemo - Agent Memory"

func NewMnemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mnemo",
		Short: mnemoShortDesc,
		Long:  mnemoLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .mnemo/ directory location")

	// Add subcommands
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(listcmder.NewListCmd())
	cmd.AddCommand(repaircmder.NewRepairCmd())
	cmd.AddCommand(synccmder.NewSyncCmd())
	cmd.AddCommand(resetcmder.NewResetCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
