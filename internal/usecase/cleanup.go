package usecase

import (
	"context"
	"path"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/semmidev/mongostash/internal/domain"
)

var archiveTimestamp = regexp.MustCompile(`backup-(\d{4}-\d{2}-\d{2}_\d{6})\.tgz$`)

// ArchiveTime parses the UTC creation time out of an archive name.
func ArchiveTime(name string) (time.Time, error) {
	matches := archiveTimestamp.FindStringSubmatch(path.Base(name))
	if len(matches) < 2 {
		return time.Time{}, errors.Errorf("%s: not a backup archive", name)
	}
	return time.Parse("2006-01-02_150405", matches[1])
}

// Cleanup deletes archives older than the retention window from one sink.
type Cleanup struct {
	storage       domain.Storage
	logger        Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanup(storage domain.Storage, logger Logger, retentionDays int) *Cleanup {
	return &Cleanup{
		storage:       storage,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (uc *Cleanup) Enabled() bool {
	return uc != nil && uc.retentionDays > 0
}

// Execute returns the number of archives deleted. Individual delete failures
// are logged and skipped.
func (uc *Cleanup) Execute(ctx context.Context) (int, error) {
	if !uc.Enabled() {
		return 0, nil
	}
	cutoff := uc.now().UTC().AddDate(0, 0, -uc.retentionDays)
	uc.logger.Infof("Starting cleanup, retention: %d days (before %s)", uc.retentionDays, cutoff.Format(time.RFC3339))

	files, err := uc.oldFiles(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, name := range files {
		uc.logger.Infof("Deleting old backup: %s", name)
		if err := uc.storage.Delete(ctx, name); err != nil {
			uc.logger.Errorf("Failed to delete %s: %v", name, err)
			continue
		}
		deleted++
	}

	uc.logger.Infof("Deleted %d old backup(s)", deleted)
	return deleted, nil
}

// oldFiles keeps only names that parse as archives, whatever the sink
// reports, so foreign objects sharing the bucket are never touched.
func (uc *Cleanup) oldFiles(ctx context.Context, cutoff time.Time) ([]string, error) {
	files, err := uc.storage.GetOldFiles(ctx, cutoff)
	if err != nil {
		uc.logger.Warnf("Listing by modification time failed, falling back to names: %v", err)
		if files, err = uc.storage.List(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to list backups")
		}
	}

	old := make([]string, 0, len(files))
	for _, name := range files {
		created, err := ArchiveTime(name)
		if err != nil {
			continue
		}
		if created.Before(cutoff) {
			old = append(old, name)
		}
	}
	return old, nil
}
