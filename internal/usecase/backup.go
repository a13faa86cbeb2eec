package usecase

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/semmidev/mongostash/internal/domain"
)

// NotifyTimeout bounds failure reporting. Notifications still go out when
// the run itself was cancelled.
const NotifyTimeout = time.Minute

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type CredentialResolver interface {
	Resolve(ctx context.Context) (domain.Credentials, error)
}

type Connector interface {
	Connect(ctx context.Context, creds domain.Credentials) (domain.Source, error)
}

// Backup is one complete run: resolve, connect, extract, archive, upload.
type Backup struct {
	resolver  CredentialResolver
	connector Connector
	extractor *Extractor
	archiver  domain.Archiver
	storage   domain.Storage
	fanout    *Fanout
	cleanup   *Cleanup
	logger    Logger

	label      string
	archiveDir string
	scoped     bool
	// local is set when the sink is the archive directory itself.
	local bool
}

type BackupOptions struct {
	Label      string
	ArchiveDir string
	Scoped     bool
	Local      bool
}

func NewBackup(
	resolver CredentialResolver,
	connector Connector,
	extractor *Extractor,
	archiver domain.Archiver,
	storage domain.Storage,
	fanout *Fanout,
	cleanup *Cleanup,
	logger Logger,
	opts BackupOptions,
) *Backup {
	return &Backup{
		resolver:   resolver,
		connector:  connector,
		extractor:  extractor,
		archiver:   archiver,
		storage:    storage,
		fanout:     fanout,
		cleanup:    cleanup,
		logger:     logger,
		label:      opts.Label,
		archiveDir: opts.ArchiveDir,
		scoped:     opts.Scoped,
		local:      opts.Local,
	}
}

// Execute runs the pipeline once. Any error is reported to every notifier
// before it is returned.
func (uc *Backup) Execute(ctx context.Context) error {
	ref, err := uc.run(ctx)
	if err != nil {
		uc.logger.Errorf("[%s] Backup failed: %+v", uc.label, err)
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), NotifyTimeout)
		defer cancel()
		uc.fanout.Dispatch(notifyCtx, domain.Event{Label: uc.label, Err: err})
		return err
	}

	if uc.local {
		uc.logger.Infof("[%s] Archive kept locally: %s", uc.label, ref)
	}
	return nil
}

func (uc *Backup) run(ctx context.Context) (string, error) {
	start := time.Now()
	uc.logger.Infof("[%s] Starting backup...", uc.label)

	creds, err := uc.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}

	src, err := uc.connector.Connect(ctx, creds)
	if err != nil {
		return "", errors.Wrapf(err, "failed to connect to %s", creds.Host)
	}
	defer func() {
		if err := src.Close(context.Background()); err != nil {
			uc.logger.Warnf("[%s] Failed to close connection: %v", uc.label, err)
		}
	}()

	databases, err := TargetDatabases(ctx, src, creds, uc.scoped)
	if err != nil {
		return "", err
	}
	uc.logger.Infof("[%s] Dumping %d database(s) to %s", uc.label, len(databases), uc.extractor.StagingRoot())

	snapshots, err := uc.extractor.Extract(ctx, src, databases)
	if err != nil {
		return "", err
	}

	var docs int64
	for _, s := range snapshots {
		docs += s.Written
	}
	uc.logger.Infof("[%s] Extracted %d collection(s), %d document(s)", uc.label, len(snapshots), docs)

	archive, err := uc.archiver.Build(uc.extractor.StagingRoot(), uc.archiveDir)
	if err != nil {
		return "", errors.Wrap(err, "failed to build archive")
	}
	uc.logger.Infof("[%s] Archive created: %s (%.2f MB)", uc.label, archive.Name, float64(archive.Size)/(1024*1024))

	ref, err := uc.storage.Upload(ctx, archive.Path, archive.Name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", archive.Name)
	}
	if !uc.local {
		uc.logger.Infof("[%s] Uploaded to %s", uc.label, ref)
		if err := os.Remove(archive.Path); err != nil {
			uc.logger.Warnf("[%s] Failed to remove local archive: %v", uc.label, err)
		}
	}

	if uc.cleanup.Enabled() {
		if _, err := uc.cleanup.Execute(ctx); err != nil {
			uc.logger.Errorf("[%s] Cleanup failed: %v", uc.label, err)
		}
	}

	uc.logger.Infof("[%s] Backup completed in %s", uc.label, time.Since(start).Round(time.Second))
	return ref, nil
}
