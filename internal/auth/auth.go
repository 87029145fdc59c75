package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/ignite/campaign-dispatcher/internal/config"
	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/backoff"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httpretry"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

const (
	scopeGmailSend = "https://www.googleapis.com/auth/gmail.send"
	scopeEmail     = "https://www.googleapis.com/auth/userinfo.email"

	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	stateTTL           = 10 * time.Minute
)

var (
	// ErrNoAccount is returned by a TokenStore when the user never connected a mailbox.
	ErrNoAccount = errors.New("no sending account connected")
	// ErrInvalidState is returned when an OAuth callback carries an unknown or expired state.
	ErrInvalidState = errors.New("invalid or expired oauth state")
)

// TokenStore persists the connected mailbox and its tokens.
type TokenStore interface {
	GetAccount(ctx context.Context, userID string) (*domain.SendingAccount, error)
	SaveAccount(ctx context.Context, a *domain.SendingAccount) error
}

// GoogleUserInfo is the subset of the userinfo response we need.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
}

type pendingState struct {
	userID    string
	expiresAt time.Time
}

// GoogleProvider connects a user's Gmail mailbox through OAuth and issues
// send credentials from the stored tokens, refreshing them when expired.
type GoogleProvider struct {
	oauth2Config *oauth2.Config
	store        TokenStore
	httpClient   *http.Client
	userInfoURL  string

	refreshGroup singleflight.Group

	states  map[string]pendingState
	stateMu sync.Mutex
	now     func() time.Time
}

// NewGoogleProvider creates a provider for the configured OAuth client.
func NewGoogleProvider(cfg config.GoogleConfig, store TokenStore) *GoogleProvider {
	retry := httpretry.NewTransport(nil, 2, backoff.Policy{Base: 500 * time.Millisecond, Max: 5 * time.Second})
	return &GoogleProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{scopeGmailSend, scopeEmail},
			Endpoint:     google.Endpoint,
		},
		store:       store,
		httpClient:  &http.Client{Timeout: 15 * time.Second, Transport: retry},
		userInfoURL: defaultUserInfoURL,
		states:      make(map[string]pendingState),
		now:         time.Now,
	}
}

// WithEndpoint points the provider at a different token endpoint and
// userinfo URL.
func (p *GoogleProvider) WithEndpoint(ep oauth2.Endpoint, userInfoURL string) *GoogleProvider {
	p.oauth2Config.Endpoint = ep
	if userInfoURL != "" {
		p.userInfoURL = userInfoURL
	}
	return p
}

// generateState creates a random state string for OAuth
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// ConnectURL starts the OAuth flow for userID. Offline access and a forced
// consent prompt make Google return a refresh token.
func (p *GoogleProvider) ConnectURL(userID string) (authURL, state string, err error) {
	state, err = generateState()
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}

	p.stateMu.Lock()
	p.states[state] = pendingState{userID: userID, expiresAt: p.now().Add(stateTTL)}
	p.stateMu.Unlock()

	return p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state, nil
}

// Complete finishes the OAuth flow: it consumes the state, exchanges the
// code and stores the mailbox tokens.
func (p *GoogleProvider) Complete(ctx context.Context, state, code string) (*domain.SendingAccount, error) {
	p.stateMu.Lock()
	pending, ok := p.states[state]
	delete(p.states, state)
	p.stateMu.Unlock()
	if !ok || p.now().After(pending.expiresAt) {
		return nil, ErrInvalidState
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	info, err := p.getUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	acct := &domain.SendingAccount{
		UserID:       pending.userID,
		Email:        info.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if err := p.store.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}

	logger.Info("sending account connected", "user_id", pending.userID, "email", info.Email)
	return acct, nil
}

// GetSendCredential returns a credential for userID, refreshing the access
// token when it has expired. Concurrent refreshes for one user are collapsed
// into a single token request.
func (p *GoogleProvider) GetSendCredential(ctx context.Context, userID string) (*sending.Credential, error) {
	acct, err := p.store.GetAccount(ctx, userID)
	if errors.Is(err, ErrNoAccount) {
		return nil, &sending.AuthError{UserID: userID, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("load sending account: %w", err)
	}

	if accountToken(acct).Valid() {
		return credentialFor(acct), nil
	}

	v, err, _ := p.refreshGroup.Do(userID, func() (interface{}, error) {
		return p.refresh(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return credentialFor(v.(*domain.SendingAccount)), nil
}

func (p *GoogleProvider) refresh(ctx context.Context, acct *domain.SendingAccount) (*domain.SendingAccount, error) {
	if acct.RefreshToken == "" {
		return nil, &sending.AuthError{UserID: acct.UserID, Err: errors.New("access token expired and no refresh token stored")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth2Config.TokenSource(ctx, accountToken(acct)).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, &sending.AuthError{UserID: acct.UserID, Err: err}
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	updated := *acct
	updated.AccessToken = token.AccessToken
	updated.TokenType = token.TokenType
	updated.Expiry = token.Expiry
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if err := p.store.SaveAccount(ctx, &updated); err != nil {
		return nil, fmt.Errorf("save refreshed token: %w", err)
	}
	logger.Debug("access token refreshed", "user_id", acct.UserID)
	return &updated, nil
}

// getUserInfo fetches the mailbox address for a fresh token
func (p *GoogleProvider) getUserInfo(ctx context.Context, token *oauth2.Token) (*GoogleUserInfo, error) {
	resp, err := p.oauth2Config.Client(ctx, token).Get(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google API error: %s", string(body))
	}

	var info GoogleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	if info.Email == "" {
		return nil, errors.New("user info carries no email address")
	}
	return &info, nil
}

// ValidateCredentials performs a lightweight check against the token
// endpoint to verify the OAuth client ID and secret. Google answers
// "invalid_client" for bad credentials and "invalid_grant" for a bad code, so
// a dummy code tells the two apart.
func (p *GoogleProvider) ValidateCredentials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	vals := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"validation_probe"},
		"client_id":     {p.oauth2Config.ClientID},
		"client_secret": {p.oauth2Config.ClientSecret},
		"redirect_uri":  {p.oauth2Config.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauth2Config.Endpoint.TokenURL, strings.NewReader(vals.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	if strings.Contains(bodyStr, "invalid_grant") || strings.Contains(bodyStr, "invalid_request") || strings.Contains(bodyStr, "redirect_uri_mismatch") {
		return nil
	}
	if strings.Contains(bodyStr, "invalid_client") {
		return errors.New("google OAuth client_id or client_secret rejected by the token endpoint")
	}
	return fmt.Errorf("unexpected response from token endpoint (HTTP %d): %s", resp.StatusCode, bodyStr)
}

// CleanupExpiredStates drops abandoned OAuth states until ctx is done.
func (p *GoogleProvider) CleanupExpiredStates(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.stateMu.Lock()
				now := p.now()
				for s, pending := range p.states {
					if now.After(pending.expiresAt) {
						delete(p.states, s)
					}
				}
				p.stateMu.Unlock()
			}
		}
	}()
}

func accountToken(a *domain.SendingAccount) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		TokenType:    a.TokenType,
		Expiry:       a.Expiry,
	}
}

func credentialFor(a *domain.SendingAccount) *sending.Credential {
	return &sending.Credential{
		UserID:      a.UserID,
		Sender:      a.Email,
		AccessToken: a.AccessToken,
		Expiry:      a.Expiry,
	}
}

// StaticProvider issues credentials for a fixed sender address, used with
// transmitters that authenticate with service credentials (SES).
type StaticProvider struct {
	Sender string
}

// GetSendCredential implements sending.AuthProvider.
func (p StaticProvider) GetSendCredential(_ context.Context, userID string) (*sending.Credential, error) {
	if p.Sender == "" {
		return nil, &sending.AuthError{UserID: userID, Err: errors.New("no sender address configured")}
	}
	return &sending.Credential{UserID: userID, Sender: p.Sender}, nil
}
