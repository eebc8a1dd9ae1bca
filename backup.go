package shelf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// BackupContentType is the media type of exported backups.
const BackupContentType = "application/json"

// Backup is a point-in-time copy of the records of one database.
type Backup struct {
	// Version is the schema version the records were written with.
	Version   int                 `json:"version"`
	CreatedAt int64               `json:"createdAt"` // unix milliseconds
	DBName    string              `json:"dbName"`
	DBVersion int                 `json:"dbVersion"`
	Metadata  *BackupMetadata     `json:"metadata,omitempty"`
	Data      map[string][]Record `json:"data"`
}

// BackupMetadata records the storage policy live when the backup was taken.
type BackupMetadata struct {
	CompressionEnabled        bool     `json:"compressionEnabled"`
	CompressionThresholdBytes int      `json:"compressionThresholdBytes"`
	CompressionAlgorithm      string   `json:"compressionAlgorithm"`
	MaxQuotaBytes             int64    `json:"maxQuotaBytes"`
	Stores                    []string `json:"stores"`
	RecordCount               int      `json:"recordCount"`
}

// BackupOptions select what CreateBackup copies.
type BackupOptions struct {
	Stores          []string // empty means every declared store
	IncludeMetadata bool
}

// RestoreOptions control RestoreBackup.
type RestoreOptions struct {
	Stores        []string // empty means every store in the backup
	ClearExisting bool     // clear each restored store first
}

// RestoreResult tallies a restore. A record that fails to migrate or to
// be written counts as one error and does not stop the restore.
type RestoreResult struct {
	Restored int `json:"restored"`
	Errors   int `json:"errors"`
	Migrated int `json:"migrated"`
}

// Validate checks the shape of a decoded backup.
func (b *Backup) Validate() error {
	invalid := func(field, reason string) error {
		return WithContext(ErrInvalidBackup, map[string]interface{}{
			"field":  field,
			"reason": reason,
		})
	}
	switch {
	case b == nil:
		return invalid("backup", "missing")
	case b.Version <= 0:
		return invalid("version", "must be positive")
	case b.DBName == "":
		return invalid("dbName", "must not be empty")
	case b.DBVersion <= 0:
		return invalid("dbVersion", "must be positive")
	case b.Data == nil:
		return invalid("data", "missing")
	}
	return nil
}

// CreateBackup copies every record of the selected stores. Each store is
// read in its own transaction.
func (e *Engine) CreateBackup(ctx context.Context, opts BackupOptions) (*Backup, error) {
	stores := opts.Stores
	if len(stores) == 0 {
		stores = e.registry.ListStores()
	}
	for _, store := range stores {
		if _, err := e.registry.Lookup(store); err != nil {
			e.emitError("backup", store, err)
			return nil, err
		}
	}

	backup := &Backup{
		Version:   e.cfg.SchemaVersion,
		CreatedAt: unixMillis(e.clock.Now()),
		DBName:    e.cfg.DBName,
		DBVersion: e.cfg.SchemaVersion,
		Data:      make(map[string][]Record, len(stores)),
	}

	total := 0
	for _, store := range stores {
		var records []Record
		err := e.exec.PerformTransaction(ctx, store, ReadOnly, func(tx *Txn) error {
			return tx.Scan(func(r Record) error {
				records = append(records, r)
				return nil
			})
		})
		if err != nil {
			e.emitError("backup", store, err)
			return nil, err
		}
		if records == nil {
			records = []Record{}
		}
		backup.Data[store] = records
		total += len(records)
	}

	if opts.IncludeMetadata {
		backup.Metadata = &BackupMetadata{
			CompressionEnabled:        e.cfg.Compression(),
			CompressionThresholdBytes: e.cfg.CompressionThresholdBytes,
			CompressionAlgorithm:      e.cfg.CompressionAlgorithm,
			MaxQuotaBytes:             e.cfg.MaxQuotaBytes,
			Stores:                    append([]string(nil), stores...),
			RecordCount:               total,
		}
	}

	e.metrics.Histogram(MetricBackupRecords, float64(total))
	e.logger.Info("backup created",
		"db", e.cfg.DBName,
		"stores", len(stores),
		"records", total)
	e.emit(EventBackupCreated, map[string]interface{}{
		"stores":  stores,
		"records": total,
	})
	return backup, nil
}

// RestoreBackup writes the records of backup with overwrite semantics,
// one transaction per record, under the same quota policy as Save. Records
// from an older schema version pass through the migrator first. A store
// that ClearExisting cannot clear is skipped and its records count as
// errors. An invalid backup fails with ErrInvalidBackup before anything is
// written.
func (e *Engine) RestoreBackup(ctx context.Context, backup *Backup, opts RestoreOptions) (RestoreResult, error) {
	var result RestoreResult
	if err := backup.Validate(); err != nil {
		e.emitError("restore", "", err)
		return result, err
	}
	if _, err := e.conns.Conn(); err != nil {
		e.emitError("restore", "", err)
		return result, err
	}

	stores := opts.Stores
	if len(stores) == 0 {
		stores = sortedKeys(backup.Data)
	}
	migrate := backup.Version < e.cfg.SchemaVersion

	for _, store := range stores {
		records := backup.Data[store]
		if _, err := e.registry.Lookup(store); err != nil {
			e.logger.Warn("backup contains undeclared store",
				"store", store,
				"records", len(records))
			result.Errors += len(records)
			continue
		}

		if opts.ClearExisting {
			if err := e.exec.PerformTransaction(ctx, store, ReadWrite, func(tx *Txn) error {
				return tx.Clear()
			}); err != nil {
				e.logger.Warn("failed to clear store before restore, skipping it",
					"store", store,
					"records", len(records),
					"error", err)
				result.Errors += len(records)
				e.metrics.Increment(MetricRestoreRecords, "outcome", "error")
				continue
			}
		}

		for _, record := range records {
			if migrate {
				migrated, err := e.migrator.MigrateRecord(record, backup.Version, e.cfg.SchemaVersion)
				if err != nil {
					e.logger.Warn("record migration failed",
						"store", store,
						"error", err)
					result.Errors++
					e.metrics.Increment(MetricRestoreRecords, "outcome", "error")
					continue
				}
				record = migrated
			}

			err := e.write(ctx, store, func(tx *Txn) error {
				_, err := tx.Put(record, PutOptions{Overwrite: true})
				return err
			})
			if err != nil {
				e.logger.Warn("record restore failed",
					"store", store,
					"error", err)
				result.Errors++
				e.metrics.Increment(MetricRestoreRecords, "outcome", "error")
				continue
			}
			result.Restored++
			if migrate {
				result.Migrated++
			}
			e.metrics.Increment(MetricRestoreRecords, "outcome", "restored")
		}
	}

	e.logger.Info("backup restored",
		"db", e.cfg.DBName,
		"from", backup.DBName,
		"restored", result.Restored,
		"errors", result.Errors,
		"migrated", result.Migrated)
	e.emit(EventBackupRestored, map[string]interface{}{
		"restored": result.Restored,
		"errors":   result.Errors,
		"migrated": result.Migrated,
	})
	return result, nil
}

// ExportBackup serializes a full backup with metadata as JSON
// (BackupContentType).
func (e *Engine) ExportBackup(ctx context.Context) ([]byte, error) {
	backup, err := e.CreateBackup(ctx, BackupOptions{IncludeMetadata: true})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(backup)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup: %w", err)
	}
	return data, nil
}

// ImportBackup decodes a JSON backup from r and restores it.
func (e *Engine) ImportBackup(ctx context.Context, r io.Reader, opts RestoreOptions) (RestoreResult, error) {
	backup, err := DecodeBackup(r)
	if err != nil {
		e.emitError("restore", "", err)
		return RestoreResult{}, err
	}
	return e.RestoreBackup(ctx, backup, opts)
}

// DecodeBackup parses and validates a JSON backup.
func DecodeBackup(r io.Reader) (*Backup, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, WithContext(fmt.Errorf("%w: %w", ErrInvalidBackup, err), map[string]interface{}{
			"reason": "malformed JSON",
		})
	}
	if err := backup.Validate(); err != nil {
		return nil, err
	}
	return &backup, nil
}

// ExportBackupFile writes ExportBackup's output to path on fs.
func (e *Engine) ExportBackupFile(ctx context.Context, fs afero.Fs, path string) error {
	data, err := e.ExportBackup(ctx)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, path, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return nil
}

// ImportBackupFile restores the backup stored at path on fs.
func (e *Engine) ImportBackupFile(ctx context.Context, fs afero.Fs, path string, opts RestoreOptions) (RestoreResult, error) {
	f, err := fs.Open(path)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()
	return e.ImportBackup(ctx, f, opts)
}

// ArchiveBackup exports a backup into archive under name. An empty name
// uses BackupName for the current time.
func (e *Engine) ArchiveBackup(ctx context.Context, archive Archive, name string) (string, error) {
	data, err := e.ExportBackup(ctx)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = BackupName(e.cfg.DBName, e.clock.Now())
	}
	if err := archive.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to archive backup %s: %w", name, err)
	}
	return name, nil
}

// RestoreFromArchive restores the backup stored in archive under name.
func (e *Engine) RestoreFromArchive(ctx context.Context, archive Archive, name string, opts RestoreOptions) (RestoreResult, error) {
	data, err := archive.Get(ctx, name)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to fetch backup %s: %w", name, err)
	}
	return e.ImportBackup(ctx, bytes.NewReader(data), opts)
}

// BackupName returns the conventional archive name of a backup of dbName
// taken at t, e.g. "tavern/20240601T120000Z.json".
func BackupName(dbName string, t time.Time) string {
	return dbName + "/" + t.UTC().Format("20060102T150405Z") + ".json"
}

func sortedKeys(m map[string][]Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
