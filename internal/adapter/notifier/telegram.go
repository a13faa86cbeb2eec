package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/mongostash/internal/config"
	"github.com/semmidev/mongostash/internal/domain"
)

// AttachmentName is the file name of the uploaded error text.
const AttachmentName = "Error"

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts the error text as a document to a fixed chat. The bot is
// created on first use so a bad token only fails this channel.
type Telegram struct {
	newSender func() (Sender, error)
	chatID    int64
	mention   string
}

func NewTelegram(cfg *config.TelegramConfig) *Telegram {
	token := cfg.BotToken
	return NewTelegramWithSender(func() (Sender, error) {
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		return bot, nil
	}, cfg.ChatID, cfg.Mention)
}

func NewTelegramWithSender(newSender func() (Sender, error), chatID int64, mention string) *Telegram {
	return &Telegram{newSender: newSender, chatID: chatID, mention: mention}
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Notify(ctx context.Context, event domain.Event) error {
	sender, err := t.newSender()
	if err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FileBytes{
		Name:  AttachmentName,
		Bytes: []byte(event.Text()),
	})
	doc.Caption = Caption(t.mention, event.Label)

	msg, err := sender.Send(doc)
	if err != nil {
		return fmt.Errorf("failed to send telegram file: %w", err)
	}
	if msg.MessageID == 0 {
		return fmt.Errorf("telegram did not acknowledge the error upload")
	}
	return nil
}

func Caption(mention, label string) string {
	return fmt.Sprintf("%s\nThe database backup for %s failed with the following error:", mention, label)
}
