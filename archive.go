package shelf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Archive stores serialized backups outside the database, on a filesystem
// or in object storage. Names are slash separated, e.g. "tavern/20240601T120000Z.json".
type Archive interface {
	Put(ctx context.Context, name string, data []byte) error

	// Get fails with ErrNotFound when name does not exist.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the names starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes name. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error
}

// FilesystemArchive keeps backups as files below a base directory of an
// afero filesystem.
type FilesystemArchive struct {
	fs       afero.Fs
	basePath string
}

// NewFilesystemArchive creates an archive rooted at basePath on fs.
func NewFilesystemArchive(fs afero.Fs, basePath string) *FilesystemArchive {
	return &FilesystemArchive{fs: fs, basePath: basePath}
}

// NewOSArchive creates an archive in a directory of the local disk.
func NewOSArchive(basePath string) *FilesystemArchive {
	return NewFilesystemArchive(afero.NewOsFs(), basePath)
}

func (a *FilesystemArchive) getPath(name string) string {
	return filepath.Join(a.basePath, filepath.FromSlash(name))
}

func (a *FilesystemArchive) Put(ctx context.Context, name string, data []byte) error {
	path := a.getPath(name)
	if err := a.fs.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return err
	}

	// Write to a temporary name first so readers never see a partial backup.
	tmp := path + ".tmp"
	if err := afero.WriteFile(a.fs, tmp, data, DefaultFilePermissions); err != nil {
		return err
	}
	return a.fs.Rename(tmp, path)
}

func (a *FilesystemArchive) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := afero.ReadFile(a.fs, a.getPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"backup": name})
		}
		return nil, err
	}
	return data, nil
}

func (a *FilesystemArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := afero.Walk(a.fs, a.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(a.basePath, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (a *FilesystemArchive) Delete(ctx context.Context, name string) error {
	if err := a.fs.Remove(a.getPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
