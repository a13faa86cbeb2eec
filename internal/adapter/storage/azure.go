package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/semmidev/mongostash/internal/config"
)

type AzureStorage struct {
	client     *azblob.Client
	serviceURL string
	container  string
	prefix     string
}

// NewAzure authenticates with the account key when one is configured and
// falls back to the default Azure credential chain otherwise.
func NewAzure(cfg *config.UploadConfig) (*AzureStorage, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	if cfg.Endpoint != "" {
		serviceURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/"
	}

	var client *azblob.Client
	if cfg.AccountKey != "" {
		credential, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credentials: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure client: %w", err)
		}
	} else {
		credential, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load azure default credentials: %w", err)
		}
		client, err = azblob.NewClient(serviceURL, credential, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure client: %w", err)
		}
	}

	return &AzureStorage{
		client:     client,
		serviceURL: serviceURL,
		container:  cfg.Bucket,
		prefix:     strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (a *AzureStorage) blobName(remoteName string) string {
	return path.Join(a.prefix, remoteName)
}

func (a *AzureStorage) Upload(ctx context.Context, localPath string, remoteName string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	name := a.blobName(remoteName)
	if _, err := a.client.UploadFile(ctx, a.container, name, file, nil); err != nil {
		return "", fmt.Errorf("failed to upload to azure: %w", err)
	}

	return a.serviceURL + a.container + "/" + name, nil
}

func (a *AzureStorage) List(ctx context.Context) ([]string, error) {
	var files []string
	err := a.walk(ctx, func(name string, _ time.Time) {
		files = append(files, name)
	})
	return files, err
}

func (a *AzureStorage) Delete(ctx context.Context, remoteName string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, a.blobName(remoteName), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete from azure: %w", err)
	}
	return nil
}

func (a *AzureStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	var oldFiles []string
	err := a.walk(ctx, func(name string, modified time.Time) {
		if modified.Before(cutoffTime) {
			oldFiles = append(oldFiles, name)
		}
	})
	return oldFiles, err
}

func (a *AzureStorage) walk(ctx context.Context, fn func(name string, modified time.Time)) error {
	var prefix string
	options := &azblob.ListBlobsFlatOptions{}
	if a.prefix != "" {
		prefix = a.prefix + "/"
		options.Prefix = &prefix
	}

	pager := a.client.NewListBlobsFlatPager(a.container, options)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list azure blobs: %w", err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*blob.Name, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			var modified time.Time
			if blob.Properties != nil && blob.Properties.LastModified != nil {
				modified = *blob.Properties.LastModified
			}
			fn(name, modified)
		}
	}
	return nil
}
