// Package listcmder provides the list command for inspecting the relational
// mirror.
package listcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemohq/mnemo/pkg/app"
	"github.com/mnemohq/mnemo/pkg/cliui"
	"github.com/mnemohq/mnemo/pkg/config"
	"github.com/mnemohq/mnemo/pkg/relational"
)

const listLongDesc string = `List mirrored memories with their resolved roles.

Reads the relational mirror directly, joining each memory against the role
table so the output shows the resolved participant name rather than a raw
role id.

Examples:
  mnemo list --user u1
  mnemo list --user u1 --session s1 --limit 20`

const listShortDesc string = "List mirrored memories with resolved roles"

type ListCommander struct {
	dialect  string
	sqlite   string
	postgres string

	userID    string
	sessionID string
	actorID   string
	limit     int
}

func NewListCmd() *cobra.Command {
	cmder := &ListCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagDialect, &cmder.dialect)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.DefaultFlagSet, config.FlagPostgres, &cmder.postgres)

	cmd.Flags().StringVar(&cmder.userID, "user", "", "Filter by user id")
	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Filter by session id")
	cmd.Flags().StringVar(&cmder.actorID, "actor", "", "Filter by actor id")
	cmd.Flags().IntVar(&cmder.limit, "limit", 50, "Maximum rows to print")

	return cmd
}

func (c *ListCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	a, err := app.FromCommand(ctx, cmd, []string{
		config.FlagDialect, config.FlagSQLite, config.FlagPostgres,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.Store.ListMemoriesWithRoles(ctx, relational.Filter{
		UserID:    c.userID,
		SessionID: c.sessionID,
		ActorID:   c.actorID,
		Limit:     c.limit,
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No memories found."))
		return nil
	}

	fmt.Println()
	for _, rec := range records {
		role := rec.RoleName
		if role == "" {
			role = "-"
		}

		fmt.Printf("  %s  %s  %s\n",
			cliui.DimStyle.Render(rec.ID),
			cliui.KeyStyle.Render(fmt.Sprintf("%-12s", role)),
			cliui.ValueStyle.Render(rec.Text),
		)
	}
	fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render(fmt.Sprintf("%d memories", len(records))))

	return nil
}
