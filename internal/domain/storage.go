package domain

import (
	"context"
	"time"
)

// Storage is an upload destination. Upload returns a reference to the
// stored object (an URL or a local path).
type Storage interface {
	Upload(ctx context.Context, localPath string, remoteName string) (string, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, remoteName string) error
	GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error)
}
