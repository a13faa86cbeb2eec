package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	pkgerrors "github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/mongostash/internal/domain"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("0100-abc")}, nil
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	msg  tgbotapi.Message
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return f.msg, f.err
}

func TestEmail(t *testing.T) {
	Convey("Given an email notifier", t, func() {
		client := &fakeSES{}
		email := NewEmailWithClient(client, "backup@example.com", []string{"a@example.com", "b@example.com"})
		event := domain.Event{Label: "nightly-dumps", Err: pkgerrors.New("connection refused")}

		Convey("When notifying a failure", func() {
			err := email.Notify(context.Background(), event)

			Convey("It sends one plain text message", func() {
				So(err, ShouldBeNil)
				So(len(client.inputs), ShouldEqual, 1)

				input := client.inputs[0]
				So(aws.ToString(input.Source), ShouldEqual, "backup@example.com")
				So(input.Destination.ToAddresses, ShouldResemble, []string{"a@example.com", "b@example.com"})
				So(aws.ToString(input.Message.Subject.Data), ShouldEqual, "Error: Backup Failed")

				body := aws.ToString(input.Message.Body.Text.Data)
				So(body, ShouldStartWith, "The database backup for nightly-dumps failed:\nconnection refused")
				So(body, ShouldContainSubstring, "TestEmail")
				So(input.Message.Body.Html, ShouldBeNil)
			})
		})

		Convey("When SES rejects the message", func() {
			client.err = errors.New("MessageRejected")
			err := email.Notify(context.Background(), event)

			Convey("It returns the error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "MessageRejected")
			})
		})
	})
}

func TestTelegram(t *testing.T) {
	Convey("Given a telegram notifier", t, func() {
		sender := &fakeSender{msg: tgbotapi.Message{MessageID: 42}}
		telegram := NewTelegramWithSender(func() (Sender, error) { return sender, nil }, -1001, "@ops")
		event := domain.Event{Label: "sales", Err: pkgerrors.New("disk full")}

		Convey("When notifying a failure", func() {
			err := telegram.Notify(context.Background(), event)

			Convey("It uploads the error text as a document named Error", func() {
				So(err, ShouldBeNil)
				So(len(sender.sent), ShouldEqual, 1)

				doc, ok := sender.sent[0].(tgbotapi.DocumentConfig)
				So(ok, ShouldBeTrue)
				So(doc.ChatID, ShouldEqual, int64(-1001))
				So(doc.Caption, ShouldEqual, "@ops\nThe database backup for sales failed with the following error:")

				file, ok := doc.File.(tgbotapi.FileBytes)
				So(ok, ShouldBeTrue)
				So(file.Name, ShouldEqual, "Error")
				So(string(file.Bytes), ShouldStartWith, "disk full")
			})
		})

		Convey("When telegram answers without a message", func() {
			sender.msg = tgbotapi.Message{}
			err := telegram.Notify(context.Background(), event)

			Convey("It treats the upload as failed", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "did not acknowledge")
			})
		})

		Convey("When the bot cannot be created", func() {
			broken := NewTelegramWithSender(func() (Sender, error) { return nil, errors.New("Not Found") }, 1, "@ops")
			err := broken.Notify(context.Background(), event)

			Convey("It returns the error without sending", func() {
				So(err, ShouldNotBeNil)
				So(len(sender.sent), ShouldEqual, 0)
			})
		})
	})
}
