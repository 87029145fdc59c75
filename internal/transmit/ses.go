package transmit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/ignite/campaign-dispatcher/internal/config"
	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends raw MIME messages through AWS SES v2.
type SES struct {
	client SESAPI
	now    func() time.Time
}

// NewSES wraps an SES v2 client.
func NewSES(client SESAPI) *SES {
	return &SES{client: client, now: time.Now}
}

// NewSESFromConfig builds the SES v2 client from static credentials, or the
// default AWS credential chain when none are configured.
func NewSESFromConfig(ctx context.Context, cfg appconfig.SESConfig) (*SES, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSES(sesv2.NewFromConfig(awsCfg)), nil
}

// Send implements sending.Transmitter.
func (s *SES) Send(ctx context.Context, cred *sending.Credential, msg *domain.OutboundMessage) (string, error) {
	if cred == nil || cred.Sender == "" {
		return "", sending.NewAuthFailure(errors.New("ses: no sender address"))
	}
	raw, err := BuildMessage(cred.Sender, msg, s.now())
	if err != nil {
		return "", sending.NewPermanent(err, errors.Is(err, ErrHeaderInjection))
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(cred.Sender),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	}
	if msg.CampaignID != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifySES(err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses message sent", "recipient", msg.To, "message_id", messageID)
	return messageID, nil
}

func classifySES(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return sending.NewTransient(fmt.Errorf("ses: %w", err))
	}

	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "LimitExceededException", "Throttling", "ThrottlingException", "ServiceUnavailable", "InternalFailure":
		return sending.NewTransient(fmt.Errorf("ses: %w", err))
	case "AccountSuspendedException", "SendingPausedException", "MailFromDomainNotVerifiedException",
		"AccessDeniedException", "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch", "ExpiredTokenException":
		return sending.NewAuthFailure(fmt.Errorf("ses: %w", err))
	case "MessageRejected":
		return sending.NewPermanent(fmt.Errorf("ses: %w", err), isInvalidRecipientMessage(apiErr.ErrorMessage()))
	}

	if apiErr.ErrorFault() == smithy.FaultServer {
		return sending.NewTransient(fmt.Errorf("ses: %w", err))
	}
	return sending.NewPermanent(fmt.Errorf("ses: %w", err), false)
}
