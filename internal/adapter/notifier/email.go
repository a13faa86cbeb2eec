package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/semmidev/mongostash/internal/config"
	"github.com/semmidev/mongostash/internal/domain"
)

const EmailSubject = "Error: Backup Failed"

// SESAPI is the subset of the SES client used to send mail.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Email struct {
	client SESAPI
	from   string
	to     []string
}

func NewEmail(ctx context.Context, cfg *config.EmailConfig) (*Email, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewEmailWithClient(ses.NewFromConfig(awsCfg), cfg.From, cfg.Recipients()), nil
}

func NewEmailWithClient(client SESAPI, from string, to []string) *Email {
	return &Email{client: client, from: from, to: to}
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) Notify(ctx context.Context, event domain.Event) error {
	body := fmt.Sprintf("The database backup for %s failed:\n%s", event.Label, event.Text())

	_, err := e.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(e.from),
		Destination: &types.Destination{
			ToAddresses: e.to,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(EmailSubject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
