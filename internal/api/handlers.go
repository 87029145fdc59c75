package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/progress"
	"github.com/ignite/campaign-dispatcher/internal/quota"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
	"github.com/ignite/campaign-dispatcher/internal/service/suppression"
)

// DefaultMaxUploadBytes bounds multipart uploads when Deps leaves it zero.
const DefaultMaxUploadBytes = 32 << 20

// OAuthConnector links a user's sending account.
type OAuthConnector interface {
	ConnectURL(userID string) (authURL, state string, err error)
	Complete(ctx context.Context, state, code string) (*domain.SendingAccount, error)
}

// AccountReader returns a user's connected sending account.
type AccountReader interface {
	GetAccount(ctx context.Context, userID string) (*domain.SendingAccount, error)
}

// Pinger reports backend health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services behind the HTTP API. OAuth, Accounts and DB may be nil.
type Deps struct {
	Campaigns      *campaign.Service
	Suppressions   *suppression.Service
	Quota          quota.Tracker
	Broker         progress.Broker
	OAuth          OAuthConnector
	Accounts       AccountReader
	DB             Pinger
	MaxUploadBytes int64
	// AfterConnect is where the OAuth callback redirects on success. Empty
	// renders the connected account as JSON.
	AfterConnect string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns    *campaign.Service
	suppressions *suppression.Service
	quota        quota.Tracker
	broker       progress.Broker
	oauth        OAuthConnector
	accounts     AccountReader
	db           Pinger
	maxUpload    int64
	afterConnect string

	// ping is the SSE keepalive interval.
	ping time.Duration
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handlers{
		campaigns:    d.Campaigns,
		suppressions: d.Suppressions,
		quota:        d.Quota,
		broker:       d.Broker,
		oauth:        d.OAuth,
		accounts:     d.Accounts,
		db:           d.DB,
		maxUpload:    d.MaxUploadBytes,
		afterConnect: d.AfterConnect,
		ping:         15 * time.Second,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	httputil.JSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
