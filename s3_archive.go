package shelf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archive keeps backups in an S3 (or S3-compatible) bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string // prepended to every name, e.g. "backups/"
}

// NewS3Archive creates an archive in bucket. prefix may be empty.
func NewS3Archive(client *s3.Client, bucket, prefix string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// NewS3ArchiveFromEnv builds the client from the default AWS credential
// chain (environment, shared config, instance role).
func NewS3ArchiveFromEnv(ctx context.Context, bucket, prefix string) (*S3Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Archive(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// MinIOConfig contains MinIO-specific configuration
type MinIOConfig struct {
	Endpoint        string // e.g., "localhost:9000" or "minio.example.com"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool // Whether to use HTTPS (default: false for localhost)
	Bucket          string
	Prefix          string
}

// NewMinIOArchive creates an archive on a MinIO server.
// MinIO is S3-compatible, so this configures an S3 client for it.
func NewMinIOArchive(cfg MinIOConfig) *S3Archive {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(endpoint),
		Region:       "us-east-1", // MinIO doesn't enforce regions, but SDK requires it
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true, // MinIO uses path-style addressing: http://host/bucket/key
	})

	return NewS3Archive(client, cfg.Bucket, cfg.Prefix)
}

func (a *S3Archive) Put(ctx context.Context, name string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.prefix + name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(BackupContentType),
	})
	return err
}

func (a *S3Archive) Get(ctx context.Context, name string) ([]byte, error) {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.prefix + name),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, WithContext(ErrNotFound, map[string]interface{}{"backup": name})
		}
		return nil, err
	}
	defer func() { _ = result.Body.Close() }() //nolint:errcheck // Deferred close

	return io.ReadAll(result.Body)
}

func (a *S3Archive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.prefix + prefix),
	})
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range output.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), a.prefix))
		}
	}

	sort.Strings(names)
	return names, nil
}

func (a *S3Archive) Delete(ctx context.Context, name string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.prefix + name),
	})
	return err
}

// CreateBucket creates the archive bucket. Used to prepare MinIO and test
// environments; an existing bucket owned by the caller is not an error.
func (a *S3Archive) CreateBucket(ctx context.Context) error {
	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil && strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
		return nil
	}
	return err
}
