package transmit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

// DefaultGmailBaseURL is the Gmail REST API root.
const DefaultGmailBaseURL = "https://gmail.googleapis.com"

// Gmail sends through the users.messages.send endpoint of the sender's own
// mailbox.
type Gmail struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewGmail creates a Gmail transmitter. An empty baseURL selects the public API.
func NewGmail(baseURL string, timeout time.Duration) *Gmail {
	if baseURL == "" {
		baseURL = DefaultGmailBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gmail{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type gmailSendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type gmailErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// Send implements sending.Transmitter.
func (g *Gmail) Send(ctx context.Context, cred *sending.Credential, msg *domain.OutboundMessage) (string, error) {
	if cred == nil || cred.AccessToken == "" {
		return "", sending.NewAuthFailure(errors.New("gmail: missing access token"))
	}

	raw, err := BuildMessage(cred.Sender, msg, g.now())
	if err != nil {
		return "", sending.NewPermanent(err, errors.Is(err, ErrHeaderInjection))
	}
	payload, err := json.Marshal(map[string]string{"raw": base64.URLEncoding.EncodeToString(raw)})
	if err != nil {
		return "", sending.NewPermanent(err, false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(payload))
	if err != nil {
		return "", sending.NewPermanent(err, false)
	}
	req.Header.Set("Content-Type", "application/json")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}))

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", sending.NewTransient(fmt.Errorf("gmail: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", sending.NewTransient(fmt.Errorf("gmail: read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out gmailSendResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", sending.NewTransient(fmt.Errorf("gmail: decode response: %w", err))
		}
		logger.Debug("gmail message sent", "recipient", msg.To, "message_id", out.ID)
		return out.ID, nil
	}

	return "", classifyGmail(resp.StatusCode, body)
}

func classifyGmail(status int, body []byte) error {
	var e gmailErrorResponse
	_ = json.Unmarshal(body, &e)
	message := e.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	reasons := make([]string, 0, len(e.Error.Errors))
	for _, r := range e.Error.Errors {
		reasons = append(reasons, r.Reason)
	}
	cause := fmt.Errorf("gmail: %s", message)

	var te *sending.TransmissionError
	switch {
	case status == http.StatusUnauthorized:
		te = sending.NewAuthFailure(cause)
	case status == http.StatusForbidden:
		if hasRateReason(reasons) {
			te = sending.NewTransient(cause)
		} else {
			te = sending.NewAuthFailure(cause)
		}
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		te = sending.NewTransient(cause)
	default:
		te = sending.NewPermanent(cause, isInvalidRecipientMessage(message))
	}
	te.StatusCode = status
	return te
}

func hasRateReason(reasons []string) bool {
	for _, r := range reasons {
		switch r {
		case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func isInvalidRecipientMessage(message string) bool {
	m := strings.ToLower(message)
	for _, s := range []string{"invalid to header", "recipient address rejected", "invalid recipient", "no such user"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}
