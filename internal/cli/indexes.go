package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/shelf"
)

// NewCheckIndexesCommand creates the check-indexes command.
func NewCheckIndexesCommand(rootOpts *RootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check-indexes [store...]",
		Short: "Compare index entries with the stored records",
		Long: `Check every index of the given stores (all stores when none are
named) against the records they should point at. With --repair, stores
that drifted get their indexes rebuilt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				stores := args
				if len(stores) == 0 {
					stores = e.Registry().ListStores()
				}

				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.Header("Store", "Index", "Expected", "Missing", "Extra")

				var drifted []string
				for _, store := range stores {
					report, err := e.CheckIndexes(cmd.Context(), store)
					if err != nil {
						return err
					}
					names := make([]string, 0, len(report.Indexes))
					for name := range report.Indexes {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						d := report.Indexes[name]
						if err := table.Append(store, name, strconv.Itoa(d.Expected),
							strconv.Itoa(d.Missing), strconv.Itoa(d.Extra)); err != nil {
							return err
						}
					}
					if !report.Healthy() {
						drifted = append(drifted, store)
					}
				}
				if err := table.Render(); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(drifted) == 0 {
					fmt.Fprintln(out, "indexes are consistent")
					return nil
				}
				if !repair {
					return fmt.Errorf("index drift in %v, rerun with --repair", drifted)
				}
				for _, store := range drifted {
					n, err := e.RepairIndexes(cmd.Context(), store)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "rebuilt %s (%d entries)\n", store, n)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "rebuild indexes of stores that drifted")
	return cmd
}
