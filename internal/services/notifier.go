package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/openclave/warden/pkg/logger"
)

// PromptKind distinguishes the two approval flows in outbound prompts.
type PromptKind string

const (
	PromptMethodChange PromptKind = "method-change"
	PromptLogin        PromptKind = "login"
)

// Notifier delivers approval prompts to a user's linked external
// channel. Prompts carry only the opaque session or pending identifier,
// never secrets or codes.
type Notifier interface {
	SendApprovalPrompt(ctx context.Context, channelID string, kind PromptKind, token, action string) error
}

// AWSSESNotifier delivers prompts through AWS SES; the messaging bridge
// watches the channel mailbox and relays decisions back through the
// callback endpoints.
type AWSSESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESNotifier creates an SES-backed notifier.
func NewAWSSESNotifier(region, fromAddress string, logger *slog.Logger) (*AWSSESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendApprovalPrompt sends an approve/deny prompt to the channel.
func (n *AWSSESNotifier) SendApprovalPrompt(ctx context.Context, channelID string, kind PromptKind, token, action string) error {
	var subject, textBody string
	switch kind {
	case PromptMethodChange:
		subject = "Confirm your two-factor authentication change"
		textBody = fmt.Sprintf(`A request was made to %s message-based two-factor authentication on your account.

Reply APPROVE %s to confirm, or DENY %s to reject.

If you did not make this request, reply DENY and review your account security.
This request expires in a few minutes.
`, action, token, token)
	case PromptLogin:
		subject = "Approve your sign-in"
		textBody = fmt.Sprintf(`Someone is signing in to your account and needs your approval.

Reply APPROVE %s to allow the sign-in, or DENY %s to block it.

If this wasn't you, reply DENY immediately.
This request expires in a few minutes.
`, token, token)
	default:
		return fmt.Errorf("unknown prompt kind: %q", kind)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{channelID},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send approval prompt",
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send approval prompt: %w", err)
	}

	n.logger.Info("approval prompt sent",
		slog.String("kind", string(kind)),
		slog.String("channel", pkglogger.SanitizedEmail(channelID)),
		slog.String("message_id", *result.MessageId))

	return nil
}
