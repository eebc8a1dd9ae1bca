package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adrianmcphee/shelf"
)

// NewDeleteDatabaseCommand creates the delete-database command.
func NewDeleteDatabaseCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-database",
		Short: "Remove the database file and every record in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				if err := e.DeleteDatabase(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", e.Config().DBName)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
