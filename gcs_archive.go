package shelf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSArchive keeps backups in a Google Cloud Storage bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig contains GCS-specific configuration
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string // Path to service account JSON file (optional, uses ADC if empty)
}

// NewGCSArchive creates an archive in cfg.Bucket.
func NewGCSArchive(ctx context.Context, cfg GCSConfig) (*GCSArchive, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	// If no credentials file, uses Application Default Credentials (ADC)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return NewGCSArchiveWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewGCSArchiveWithClient wraps an existing client.
func NewGCSArchiveWithClient(client *storage.Client, bucket, prefix string) *GCSArchive {
	return &GCSArchive{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (a *GCSArchive) Put(ctx context.Context, name string, data []byte) error {
	writer := a.client.Bucket(a.bucket).Object(a.prefix + name).NewWriter(ctx)
	writer.ContentType = BackupContentType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func (a *GCSArchive) Get(ctx context.Context, name string) ([]byte, error) {
	reader, err := a.client.Bucket(a.bucket).Object(a.prefix + name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"backup": name})
		}
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (a *GCSArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: a.prefix + prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, strings.TrimPrefix(attrs.Name, a.prefix))
	}

	sort.Strings(names)
	return names, nil
}

func (a *GCSArchive) Delete(ctx context.Context, name string) error {
	err := a.client.Bucket(a.bucket).Object(a.prefix + name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// Close releases the client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}
