// Package sending defines the contracts the dispatcher uses to hand a rendered
// message to an outbound mail provider.
//
// A Transmitter (Gmail API, SES) sends one message with a Credential obtained
// from an AuthProvider. Failures are reported as *TransmissionError so the
// dispatcher can decide between retrying, failing the recipient, or halting
// the whole campaign.
package sending

import (
	"context"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/domain"
)

// Credential is a send credential valid at the time it was issued.
type Credential struct {
	UserID      string
	Sender      string // From address
	AccessToken string
	Expiry      time.Time
}

// Transmitter sends a single message. Implementations must be safe for
// concurrent use and return the provider message id on success.
type Transmitter interface {
	Send(ctx context.Context, cred *Credential, msg *domain.OutboundMessage) (string, error)
}

// AuthProvider issues send credentials. It returns an *AuthError when the
// user has no usable credential.
type AuthProvider interface {
	GetSendCredential(ctx context.Context, userID string) (*Credential, error)
}

// AuthProviderFunc adapts a function to AuthProvider.
type AuthProviderFunc func(ctx context.Context, userID string) (*Credential, error)

func (f AuthProviderFunc) GetSendCredential(ctx context.Context, userID string) (*Credential, error) {
	return f(ctx, userID)
}
