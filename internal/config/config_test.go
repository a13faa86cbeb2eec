package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadFromEnv(t *testing.T) {
	Convey("Given the config loader", t, func() {
		Convey("When only environment variables are set", func() {
			t.Setenv("MONGO_HOST", "mongo.internal:27017")
			t.Setenv("MONGO_USERNAME", "backup")
			t.Setenv("MONGO_PASSWORD", "secret")
			t.Setenv("BUCKET_NAME", "nightly-dumps")
			t.Setenv("EMAIL_FROM", "ops@example.com")
			t.Setenv("EMAIL_TO", "a@example.com; b@example.com;")
			t.Setenv("BACKUP_WORKERS", "4")

			cfg, err := Load("")

			Convey("It should bind the legacy names and apply defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Mongo.Host, ShouldEqual, "mongo.internal:27017")
				So(cfg.Mongo.Username, ShouldEqual, "backup")
				So(cfg.Mongo.Mode, ShouldEqual, ModeAdmin)
				So(cfg.Upload.Bucket, ShouldEqual, "nightly-dumps")
				So(cfg.Upload.Provider, ShouldEqual, "s3")
				So(cfg.Backup.StagingPath, ShouldEqual, "/tmp/dump")
				So(cfg.Backup.Workers, ShouldEqual, 4)
				So(cfg.Notify.Email.Recipients(), ShouldResemble, []string{"a@example.com", "b@example.com"})
				So(cfg.EmailEnabled(), ShouldBeTrue)
				So(cfg.TelegramEnabled(), ShouldBeFalse)
				So(cfg.Label(), ShouldEqual, "nightly-dumps")
			})
		})

	})
}

func TestLoadFromFile(t *testing.T) {
	Convey("Given a YAML config file", t, func() {
		Convey("When it is loaded", func() {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			content := []byte(`
mongo:
  host: db:27017
  mode: scoped
  database: sales
notify:
  telegram:
    bot_token: "123:abc"
    chat_id: -100200300
`)
			So(os.WriteFile(path, content, 0o644), ShouldBeNil)

			cfg, err := Load(path)

			Convey("It should read the file", func() {
				So(err, ShouldBeNil)
				So(cfg.Mongo.Mode, ShouldEqual, ModeScoped)
				So(cfg.Mongo.Database, ShouldEqual, "sales")
				So(cfg.Notify.Telegram.ChatID, ShouldEqual, int64(-100200300))
				So(cfg.Notify.Telegram.Mention, ShouldEqual, "@all")
				So(cfg.TelegramEnabled(), ShouldBeTrue)
				So(cfg.Label(), ShouldEqual, "sales")
			})
		})

		Convey("When the file does not exist", func() {
			_, err := Load("/nonexistent/config.yaml")

			Convey("It should return an error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to read config")
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given a valid base config", t, func() {
		cfg := &Config{
			App:    AppConfig{Name: "mongostash"},
			Mongo:  MongoConfig{Host: "db", Mode: ModeAdmin},
			Backup: BackupConfig{StagingPath: "/tmp/dump", ArchiveDir: "/tmp", Workers: 1},
			Upload: UploadConfig{Provider: "s3"},
		}
		So(cfg.Validate(), ShouldBeNil)

		Convey("An unknown mode is rejected", func() {
			cfg.Mongo.Mode = "root"
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Scoped mode needs a database unless vault provides it", func() {
			cfg.Mongo.Mode = ModeScoped
			So(cfg.Validate().Error(), ShouldContainSubstring, "mongo.database")

			cfg.Vault = VaultConfig{Secret: "secret/mongo", Host: "http://vault:8200", Token: "s.x"}
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("A vault secret needs host and token", func() {
			cfg.Vault.Secret = "secret/mongo"
			So(cfg.Validate().Error(), ShouldContainSubstring, "vault.host")
		})

		Convey("The archive directory must stay out of staging", func() {
			cfg.Backup.ArchiveDir = "/tmp/dump"
			So(cfg.Validate().Error(), ShouldContainSubstring, "backup.archive_dir")

			cfg.Backup.ArchiveDir = "/tmp/dump/out"
			So(cfg.Validate().Error(), ShouldContainSubstring, "backup.archive_dir")

			cfg.Backup.StagingPath = "/tmp"
			cfg.Backup.ArchiveDir = "/tmp"
			So(cfg.Validate().Error(), ShouldContainSubstring, "backup.archive_dir")

			cfg.Backup.StagingPath = "/"
			cfg.Backup.ArchiveDir = "/srv/backups"
			So(cfg.Validate().Error(), ShouldContainSubstring, "filesystem root")
		})

		Convey("A sibling or parent archive directory is fine", func() {
			cfg.Backup.ArchiveDir = "/tmp/dumpster"
			So(cfg.Validate(), ShouldBeNil)

			cfg.Backup.ArchiveDir = "/var/backups"
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("Workers must be positive", func() {
			cfg.Backup.Workers = 0
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("Unknown providers are rejected only when a bucket is set", func() {
			cfg.Upload.Provider = "ftp"
			So(cfg.Validate(), ShouldBeNil)

			cfg.Upload.Bucket = "b"
			So(cfg.Validate().Error(), ShouldContainSubstring, "unknown upload.provider")
		})

		Convey("Email recipients need a sender", func() {
			cfg.Notify.Email.To = "ops@example.com"
			So(cfg.Validate().Error(), ShouldContainSubstring, "notify.email.from")
		})

		Convey("A telegram token needs a chat id", func() {
			cfg.Notify.Telegram.BotToken = "123:abc"
			So(cfg.Validate().Error(), ShouldContainSubstring, "chat_id")
		})

		Convey("The label falls back to the app name", func() {
			cfg.Mongo.Host = ""
			So(cfg.Label(), ShouldEqual, "mongostash")
		})
	})
}
