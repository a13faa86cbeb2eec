package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/semmidev/mongostash/internal/config"
)

type GCSStorage struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS uses the credentials file when set and application default
// credentials otherwise. A custom endpoint (an emulator) without a
// credentials file is used unauthenticated.
func NewGCS(ctx context.Context, cfg *config.UploadConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (g *GCSStorage) object(remoteName string) *gcs.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path.Join(g.prefix, remoteName))
}

func (g *GCSStorage) Upload(ctx context.Context, localPath string, remoteName string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	obj := g.object(remoteName)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/gzip"

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	// The object only exists once the writer is closed successfully.
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish GCS upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, obj.ObjectName()), nil
}

func (g *GCSStorage) List(ctx context.Context) ([]string, error) {
	var files []string
	err := g.walk(ctx, func(name string, _ time.Time) {
		files = append(files, name)
	})
	return files, err
}

func (g *GCSStorage) Delete(ctx context.Context, remoteName string) error {
	err := g.object(remoteName).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

func (g *GCSStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	var oldFiles []string
	err := g.walk(ctx, func(name string, created time.Time) {
		if created.Before(cutoffTime) {
			oldFiles = append(oldFiles, name)
		}
	})
	return oldFiles, err
}

func (g *GCSStorage) walk(ctx context.Context, fn func(name string, created time.Time)) error {
	query := &gcs.Query{Delimiter: "/"}
	if g.prefix != "" {
		query.Prefix = g.prefix + "/"
	}

	it := g.client.Bucket(g.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list GCS objects: %w", err)
		}
		if attrs.Prefix != "" {
			continue
		}
		name := strings.TrimPrefix(attrs.Name, query.Prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		fn(name, attrs.Created)
	}
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}
