package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/shelf"
)

// BackupExportOptions holds flags for backup export.
type BackupExportOptions struct {
	Out      string
	Stores   []string
	Metadata bool
}

// BackupImportOptions holds flags for backup import.
type BackupImportOptions struct {
	Clear  bool
	Stores []string
}

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and import JSON backups",
	}
	fs := afero.NewOsFs()
	cmd.AddCommand(newBackupExportCommand(rootOpts, fs))
	cmd.AddCommand(newBackupImportCommand(rootOpts, fs))
	return cmd
}

func newBackupExportCommand(rootOpts *RootOptions, fs afero.Fs) *cobra.Command {
	opts := &BackupExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup to a file or stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				backup, err := e.CreateBackup(cmd.Context(), shelf.BackupOptions{
					Stores:          opts.Stores,
					IncludeMetadata: opts.Metadata,
				})
				if err != nil {
					return err
				}
				data, err := json.Marshal(backup)
				if err != nil {
					return fmt.Errorf("failed to marshal backup: %w", err)
				}

				if opts.Out == "" || opts.Out == "-" {
					_, err = cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				if err := afero.WriteFile(fs, opts.Out, data, shelf.DefaultFilePermissions); err != nil {
					return fmt.Errorf("failed to write backup file: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", opts.Out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringSliceVar(&opts.Stores, "stores", nil, "stores to include (default all)")
	cmd.Flags().BoolVar(&opts.Metadata, "metadata", true, "include storage policy metadata")
	return cmd
}

func newBackupImportCommand(rootOpts *RootOptions, fs afero.Fs) *cobra.Command {
	opts := &BackupImportOptions{}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup file",
		Long: `Restore a backup file. Records overwrite stored records with the same
key; records from an older schema version are migrated first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(e *shelf.Engine) error {
				result, err := e.ImportBackupFile(cmd.Context(), fs, args[0], shelf.RestoreOptions{
					Stores:        opts.Stores,
					ClearExisting: opts.Clear,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d records (%d migrated, %d errors)\n",
					result.Restored, result.Migrated, result.Errors)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "clear each restored store first")
	cmd.Flags().StringSliceVar(&opts.Stores, "stores", nil, "stores to restore (default all in the backup)")
	return cmd
}
