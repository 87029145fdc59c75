package transmit

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func TestSESSend_Success(t *testing.T) {
	api := &fakeSES{}
	id, err := NewSES(api).Send(context.Background(), testCred, testMessage())
	require.NoError(t, err)
	assert.Equal(t, "ses-msg-1", id)

	require.NotNil(t, api.input)
	assert.Equal(t, "me@example.com", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"ada@example.com"}, api.input.Destination.ToAddresses)
	require.NotNil(t, api.input.Content.Raw)
	assert.Contains(t, string(api.input.Content.Raw.Data), "Subject: Hi")
	require.Len(t, api.input.EmailTags, 1)
	assert.Equal(t, "c1", aws.ToString(api.input.EmailTags[0].Value))
}

func TestSESSend_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    sending.ErrorKind
		wantInvalid bool
	}{
		{"throttled", &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "slow down"}, sending.Transient, false},
		{"server fault", &smithy.GenericAPIError{Code: "SomethingNew", Fault: smithy.FaultServer}, sending.Transient, false},
		{"sending paused", &smithy.GenericAPIError{Code: "SendingPausedException"}, sending.AuthFailure, false},
		{"bad keys", &smithy.GenericAPIError{Code: "UnrecognizedClientException"}, sending.AuthFailure, false},
		{"rejected recipient", &smithy.GenericAPIError{Code: "MessageRejected", Message: "Recipient address rejected"}, sending.Permanent, true},
		{"bad request", &smithy.GenericAPIError{Code: "BadRequestException", Fault: smithy.FaultClient}, sending.Permanent, false},
		{"network", errors.New("dial tcp: i/o timeout"), sending.Transient, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSES(&fakeSES{err: tt.err}).Send(context.Background(), testCred, testMessage())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, sending.Classify(err))
			assert.Equal(t, tt.wantInvalid, sending.IsInvalidRecipient(err))
		})
	}
}

func TestSESSend_NoSender(t *testing.T) {
	_, err := NewSES(&fakeSES{}).Send(context.Background(), &sending.Credential{UserID: "u1"}, testMessage())
	assert.Equal(t, sending.AuthFailure, sending.Classify(err))
}
