package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/mongostash/internal/adapter/archiver"
	"github.com/semmidev/mongostash/internal/adapter/notifier"
	"github.com/semmidev/mongostash/internal/infrastructure/logger"
)

type countingSES struct {
	mu     sync.Mutex
	bodies []string
}

func (c *countingSES) SendEmail(ctx context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, aws.ToString(in.Message.Body.Text.Data))
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

type countingBot struct {
	mu    sync.Mutex
	files []string
}

func (c *countingBot) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := msg.(tgbotapi.DocumentConfig)
	c.files = append(c.files, string(doc.File.(tgbotapi.FileBytes).Bytes))
	return tgbotapi.Message{MessageID: 7}, nil
}

func TestAbortReachesEveryChannel(t *testing.T) {
	Convey("Given email and chat channels and an unreachable source", t, func() {
		dir := t.TempDir()
		mail := &countingSES{}
		bot := &countingBot{}
		log := logger.NewNop()

		fanout := NewFanout(log,
			notifier.NewEmailWithClient(mail, "backup@example.com", []string{"ops@example.com"}),
			notifier.NewTelegramWithSender(func() (notifier.Sender, error) { return bot, nil }, -100, "@all"),
		)
		uc := NewBackup(
			&fakeResolver{},
			&fakeConnector{err: errors.New("connection refused")},
			NewExtractor(filepath.Join(dir, "dump"), 1, log, false),
			archiver.NewTarGz(),
			&fakeStorage{},
			fanout,
			nil,
			log,
			BackupOptions{Label: "prod-backups", ArchiveDir: dir},
		)

		err := uc.Execute(context.Background())

		Convey("The run fails", func() {
			So(err, ShouldNotBeNil)
		})

		Convey("Exactly one email and one chat upload carry the error text", func() {
			So(len(mail.bodies), ShouldEqual, 1)
			So(mail.bodies[0], ShouldStartWith, "The database backup for prod-backups failed:\n")
			So(mail.bodies[0], ShouldContainSubstring, "connection refused")

			So(len(bot.files), ShouldEqual, 1)
			So(bot.files[0], ShouldContainSubstring, "connection refused")
		})
	})
}
