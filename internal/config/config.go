package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	ModeAdmin  = "admin"
	ModeScoped = "scoped"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Vault  VaultConfig  `mapstructure:"vault"`
	Backup BackupConfig `mapstructure:"backup"`
	Upload UploadConfig `mapstructure:"upload"`
	Notify NotifyConfig `mapstructure:"notify"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	Interactive bool   `mapstructure:"interactive"`
	Schedule    string `mapstructure:"schedule"`
}

type MongoConfig struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Mode     string `mapstructure:"mode"`
	Scheme   string `mapstructure:"scheme"`
	Options  string `mapstructure:"options"`
}

type VaultConfig struct {
	Secret string `mapstructure:"secret"`
	Host   string `mapstructure:"host"`
	Token  string `mapstructure:"token"`
}

type BackupConfig struct {
	StagingPath   string `mapstructure:"staging_path"`
	ArchiveDir    string `mapstructure:"archive_dir"`
	Workers       int    `mapstructure:"workers"`
	RetentionDays int    `mapstructure:"retention_days"`
	Label         string `mapstructure:"label"`
}

type UploadConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Google Cloud Storage / Google Drive
	CredentialsFile  string `mapstructure:"credentials_file"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`

	// Azure Blob Storage
	Account    string `mapstructure:"account"`
	AccountKey string `mapstructure:"account_key"`
}

type NotifyConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type EmailConfig struct {
	From   string `mapstructure:"from"`
	To     string `mapstructure:"to"`
	Region string `mapstructure:"region"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	Mention  string `mapstructure:"mention"`
}

var envBindings = map[string]string{
	"app.log_level":             "LOG_LEVEL",
	"app.log_file":              "LOG_FILE",
	"app.interactive":           "INTERACTIVE",
	"app.schedule":              "BACKUP_SCHEDULE",
	"mongo.host":                "MONGO_HOST",
	"mongo.username":            "MONGO_USERNAME",
	"mongo.password":            "MONGO_PASSWORD",
	"mongo.database":            "MONGO_DATABASE",
	"mongo.mode":                "MONGO_MODE",
	"mongo.scheme":              "MONGO_SCHEME",
	"mongo.options":             "MONGO_OPTIONS",
	"vault.secret":              "VAULT_SECRET",
	"vault.host":                "VAULT_HOST",
	"vault.token":               "VAULT_TOKEN",
	"backup.staging_path":       "STAGING_PATH",
	"backup.archive_dir":        "ARCHIVE_DIR",
	"backup.workers":            "BACKUP_WORKERS",
	"backup.retention_days":     "RETENTION_DAYS",
	"backup.label":              "BACKUP_LABEL",
	"upload.provider":           "STORAGE_PROVIDER",
	"upload.bucket":             "BUCKET_NAME",
	"upload.prefix":             "UPLOAD_PREFIX",
	"upload.region":             "AWS_REGION",
	"upload.endpoint":           "S3_ENDPOINT",
	"upload.access_key":         "AWS_ACCESS_KEY_ID",
	"upload.secret_key":         "AWS_SECRET_ACCESS_KEY",
	"upload.credentials_file":   "GOOGLE_APPLICATION_CREDENTIALS",
	"upload.client_secret_file": "GDRIVE_CLIENT_SECRET_FILE",
	"upload.refresh_token":      "GDRIVE_REFRESH_TOKEN",
	"upload.account":            "AZURE_STORAGE_ACCOUNT",
	"upload.account_key":        "AZURE_STORAGE_ACCESS_KEY",
	"notify.email.from":         "EMAIL_FROM",
	"notify.email.to":           "EMAIL_TO",
	"notify.email.region":       "SES_REGION",
	"notify.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"notify.telegram.chat_id":   "TELEGRAM_CHAT_ID",
	"notify.telegram.mention":   "TELEGRAM_MENTION",
}

// Load reads the optional YAML file at path and overlays the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("app.name", "mongostash")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.interactive", true)
	v.SetDefault("mongo.mode", ModeAdmin)
	v.SetDefault("mongo.scheme", "mongodb")
	v.SetDefault("backup.staging_path", "/tmp/dump")
	v.SetDefault("backup.archive_dir", "/tmp")
	v.SetDefault("backup.workers", 1)
	v.SetDefault("backup.retention_days", 0)
	v.SetDefault("upload.provider", "s3")
	v.SetDefault("notify.telegram.mention", "@all")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mongo.Mode {
	case ModeAdmin, ModeScoped:
	default:
		return fmt.Errorf("mongo.mode must be %q or %q, got %q", ModeAdmin, ModeScoped, c.Mongo.Mode)
	}

	// In scoped mode the database may also come from the vault secret.
	if c.Mongo.Mode == ModeScoped && c.Mongo.Database == "" && c.Vault.Secret == "" {
		return fmt.Errorf("mongo.database is required in scoped mode")
	}

	if c.Vault.Secret != "" {
		if c.Vault.Host == "" {
			return fmt.Errorf("vault.host is required when vault.secret is set")
		}
		if c.Vault.Token == "" {
			return fmt.Errorf("vault.token is required when vault.secret is set")
		}
	}

	if c.Backup.StagingPath == "" {
		return fmt.Errorf("backup.staging_path is required")
	}
	if c.Backup.ArchiveDir == "" {
		return fmt.Errorf("backup.archive_dir is required")
	}
	if err := checkArchiveDir(c.Backup.StagingPath, c.Backup.ArchiveDir); err != nil {
		return err
	}
	if c.Backup.Workers < 1 {
		return fmt.Errorf("backup.workers must be at least 1")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("backup.retention_days must not be negative")
	}

	if c.Upload.Bucket != "" {
		switch c.Upload.Provider {
		case "s3", "gcs", "azure", "gdrive":
		default:
			return fmt.Errorf("unknown upload.provider: %s", c.Upload.Provider)
		}
		if c.Upload.Provider == "azure" && c.Upload.Account == "" {
			return fmt.Errorf("upload.account is required for azure uploads")
		}
	}

	if len(c.Notify.Email.Recipients()) > 0 && c.Notify.Email.From == "" {
		return fmt.Errorf("notify.email.from is required when notify.email.to is set")
	}
	if c.Notify.Telegram.BotToken != "" && c.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify.telegram.chat_id is required when notify.telegram.bot_token is set")
	}

	return nil
}

// checkArchiveDir rejects an archive directory at or below the staging
// root: staging is wiped before every run and archived as a whole.
func checkArchiveDir(staging, archiveDir string) error {
	stagingAbs, err := filepath.Abs(staging)
	if err != nil {
		return fmt.Errorf("backup.staging_path: %w", err)
	}
	archiveAbs, err := filepath.Abs(archiveDir)
	if err != nil {
		return fmt.Errorf("backup.archive_dir: %w", err)
	}
	if stagingAbs == filepath.Dir(stagingAbs) {
		return fmt.Errorf("backup.staging_path must not be the filesystem root")
	}

	rel, err := filepath.Rel(stagingAbs, archiveAbs)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("backup.archive_dir %s must not be inside backup.staging_path %s", archiveDir, staging)
	}
	return nil
}

// Recipients splits the semicolon separated "to" list.
func (e EmailConfig) Recipients() []string {
	var to []string
	for _, addr := range strings.Split(e.To, ";") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return to
}

func (c *Config) EmailEnabled() bool {
	return len(c.Notify.Email.Recipients()) > 0
}

func (c *Config) TelegramEnabled() bool {
	return c.Notify.Telegram.BotToken != ""
}

// Label names the backup in failure notifications.
func (c *Config) Label() string {
	switch {
	case c.Backup.Label != "":
		return c.Backup.Label
	case c.Upload.Bucket != "":
		return c.Upload.Bucket
	case c.Mongo.Database != "":
		return c.Mongo.Database
	case c.Mongo.Host != "":
		return c.Mongo.Host
	default:
		return c.App.Name
	}
}
