package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/semmidev/mongostash/internal/adapter/archiver"
	"github.com/semmidev/mongostash/internal/adapter/database"
	"github.com/semmidev/mongostash/internal/adapter/notifier"
	"github.com/semmidev/mongostash/internal/adapter/secret"
	"github.com/semmidev/mongostash/internal/adapter/storage"
	"github.com/semmidev/mongostash/internal/config"
	"github.com/semmidev/mongostash/internal/domain"
	"github.com/semmidev/mongostash/internal/infrastructure/logger"
	"github.com/semmidev/mongostash/internal/infrastructure/scheduler"
	"github.com/semmidev/mongostash/internal/usecase"
)

type App struct {
	config    *config.Config
	logger    *logger.Logger
	providers []usecase.Provider
	connector *database.MongoConnector
	archiver  domain.Archiver
	sink      domain.Storage
	local     bool
	notifiers []domain.Notifier
	scheduler *scheduler.Scheduler
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	log.Infof("Starting %s (%s mode)", cfg.App.Name, cfg.Mongo.Mode)

	providers, err := credentialProviders(cfg, log)
	if err != nil {
		return nil, err
	}

	sink, local, err := newUploadSink(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if local {
		log.Infof("✓ No bucket configured, archives stay in %s", cfg.Backup.ArchiveDir)
	} else {
		log.Infof("✓ %s upload enabled (bucket: %s)", cfg.Upload.Provider, cfg.Upload.Bucket)
	}

	notifiers, err := newNotifiers(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, n := range notifiers {
		log.Infof("✓ %s notifications enabled", n.Name())
	}

	return &App{
		config:    cfg,
		logger:    log,
		providers: providers,
		connector: database.NewMongoConnector(&cfg.Mongo),
		archiver:  archiver.NewTarGz(),
		sink:      sink,
		local:     local,
		notifiers: notifiers,
		scheduler: scheduler.New(log),
	}, nil
}

func credentialProviders(cfg *config.Config, log *logger.Logger) ([]usecase.Provider, error) {
	scoped := cfg.Mongo.Mode == config.ModeScoped
	var providers []usecase.Provider

	if cfg.Vault.Secret != "" {
		store, err := secret.NewVault(&cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vault: %w", err)
		}
		providers = append(providers, &usecase.VaultProvider{
			Store:    store,
			Classify: secret.ClassifyRenewal,
			Path:     cfg.Vault.Secret,
			Host:     cfg.Mongo.Host,
			Database: cfg.Mongo.Database,
			Scoped:   scoped,
			Logger:   log,
		})
	}

	providers = append(providers,
		&usecase.StaticProvider{Credentials: domain.Credentials{
			Host:     cfg.Mongo.Host,
			Database: cfg.Mongo.Database,
			Username: cfg.Mongo.Username,
			Password: cfg.Mongo.Password,
		}},
		usecase.NewPromptProvider(cfg.App.Interactive, scoped, cfg.Mongo.Database),
	)
	return providers, nil
}

// newUploadSink picks the destination once: no bucket means the archive
// directory itself is the sink.
func newUploadSink(ctx context.Context, cfg *config.Config) (domain.Storage, bool, error) {
	if cfg.Upload.Bucket == "" {
		local, err := storage.NewLocal(cfg.Backup.ArchiveDir)
		if err != nil {
			return nil, false, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return local, true, nil
	}

	var (
		sink domain.Storage
		err  error
	)
	switch cfg.Upload.Provider {
	case "s3":
		sink, err = storage.NewS3(ctx, &cfg.Upload)
	case "gcs":
		sink, err = storage.NewGCS(ctx, &cfg.Upload)
	case "azure":
		sink, err = storage.NewAzure(&cfg.Upload)
	case "gdrive":
		sink, err = storage.NewGDrive(ctx, &cfg.Upload)
	default:
		return nil, false, fmt.Errorf("unknown upload provider: %s", cfg.Upload.Provider)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize %s: %w", cfg.Upload.Provider, err)
	}
	return sink, false, nil
}

func newNotifiers(ctx context.Context, cfg *config.Config) ([]domain.Notifier, error) {
	var notifiers []domain.Notifier

	if cfg.EmailEnabled() {
		email, err := notifier.NewEmail(ctx, &cfg.Notify.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email: %w", err)
		}
		notifiers = append(notifiers, email)
	}
	if cfg.TelegramEnabled() {
		notifiers = append(notifiers, notifier.NewTelegram(&cfg.Notify.Telegram))
	}

	return notifiers, nil
}

func (a *App) backup(log *logger.Logger) *usecase.Backup {
	cfg := a.config

	var cleanup *usecase.Cleanup
	if cfg.Backup.RetentionDays > 0 {
		cleanup = usecase.NewCleanup(a.sink, log, cfg.Backup.RetentionDays)
	}

	return usecase.NewBackup(
		usecase.NewResolver(log, a.providers...),
		a.connector,
		usecase.NewExtractor(cfg.Backup.StagingPath, cfg.Backup.Workers, log, cfg.App.Interactive),
		a.archiver,
		a.sink,
		usecase.NewFanout(log, a.notifiers...),
		cleanup,
		log,
		usecase.BackupOptions{
			Label:      cfg.Label(),
			ArchiveDir: cfg.Backup.ArchiveDir,
			Scoped:     cfg.Mongo.Mode == config.ModeScoped,
			Local:      a.local,
		},
	)
}

// RunOnce performs a single backup run.
func (a *App) RunOnce(ctx context.Context) error {
	runID := time.Now().UTC().Format("20060102-150405")
	return a.backup(a.logger.ForRun(runID)).Execute(ctx)
}

// Schedule runs a backup on every tick of app.schedule until ctx is done.
func (a *App) Schedule(ctx context.Context) error {
	spec := a.config.App.Schedule
	if spec == "" {
		return fmt.Errorf("app.schedule is not set")
	}

	if err := a.scheduler.AddJob("backup", spec, func(context.Context) error {
		return a.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started: %s", spec)

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()
	if closer, ok := a.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warnf("Failed to close storage: %v", err)
		}
	}
	a.logger.Close()
}
