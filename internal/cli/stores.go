package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/shelf"
)

// NewStoresCommand creates the stores command.
func NewStoresCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the declared stores and their record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				table := tablewriter.NewWriter(cmd.OutOrStdout())
				table.Header("Store", "Key", "Indexes", "Expiry", "Records")

				registry := e.Registry()
				for _, name := range registry.ListStores() {
					schema, err := registry.Lookup(name)
					if err != nil {
						return err
					}
					count, err := e.Count(cmd.Context(), name)
					if err != nil {
						return err
					}
					if err := table.Append(name, schema.KeyPath, describeIndexes(schema),
						describeExpiry(schema), strconv.Itoa(count)); err != nil {
						return err
					}
				}
				return table.Render()
			})
		},
	}
}

// NewUsageCommand creates the usage command.
func NewUsageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report storage usage against the configured quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				usage, err := e.GetStorageUsage(cmd.Context())
				if err != nil {
					return err
				}
				cfg := e.Config()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", cfg.DBName, usage)
				if cfg.MaxQuotaBytes > 0 {
					fmt.Fprintf(out, "cleanup starts at %s\n",
						humanize.Bytes(uint64(float64(cfg.MaxQuotaBytes)*cfg.HighWaterMark)))
				}
				return nil
			})
		},
	}
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired and unreadable records now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				result, err := e.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				if result.Skipped {
					fmt.Fprintln(cmd.OutOrStdout(), "skipped: a sweep is already running")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d records (%d errors)\n", result.Cleaned, result.Errors)
				return nil
			})
		},
	}
}

func describeIndexes(schema shelf.StoreSchema) string {
	if len(schema.Indexes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(schema.Indexes))
	for _, idx := range schema.Indexes {
		var flags []string
		if idx.Unique {
			flags = append(flags, "unique")
		}
		if idx.MultiEntry {
			flags = append(flags, "multi")
		}
		desc := idx.Name + "(" + idx.KeyPath + ")"
		if len(flags) > 0 {
			desc += " " + strings.Join(flags, ",")
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, "; ")
}

func describeExpiry(schema shelf.StoreSchema) string {
	var parts []string
	if schema.TTL > 0 {
		parts = append(parts, "ttl "+schema.TTL.String())
	}
	if schema.ExpiresAtPath != "" {
		parts = append(parts, "field "+schema.ExpiresAtPath)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}
