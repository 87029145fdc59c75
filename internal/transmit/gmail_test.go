package transmit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/service/sending"
)

func newGmailServer(t *testing.T, status int, body string) (*httptest.Server, *[]byte) {
	t.Helper()
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/send", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var req struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.URLEncoding.DecodeString(req.Raw)
		require.NoError(t, err)
		captured = raw
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func testMessage() *domain.OutboundMessage {
	return &domain.OutboundMessage{CampaignID: "c1", RecipientID: "r1", To: "ada@example.com", Subject: "Hi", Body: "Hello"}
}

var testCred = &sending.Credential{UserID: "u1", Sender: "me@example.com", AccessToken: "tok-1"}

func TestGmailSend_Success(t *testing.T) {
	srv, captured := newGmailServer(t, http.StatusOK, `{"id":"18c2f","threadId":"18c2f"}`)
	g := NewGmail(srv.URL, 0)

	id, err := g.Send(context.Background(), testCred, testMessage())
	require.NoError(t, err)
	assert.Equal(t, "18c2f", id)
	assert.True(t, strings.Contains(string(*captured), "To: ada@example.com"))
	assert.True(t, strings.Contains(string(*captured), "From: me@example.com"))
}

func TestGmailSend_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    sending.ErrorKind
		wantInvalid bool
	}{
		{"unauthorized", 401, `{"error":{"code":401,"message":"Request had invalid authentication credentials."}}`, sending.AuthFailure, false},
		{"forbidden scope", 403, `{"error":{"code":403,"message":"Insufficient Permission","errors":[{"reason":"insufficientPermissions"}]}}`, sending.AuthFailure, false},
		{"rate limited 403", 403, `{"error":{"code":403,"message":"User-rate limit exceeded","errors":[{"reason":"userRateLimitExceeded"}]}}`, sending.Transient, false},
		{"too many requests", 429, `{"error":{"code":429,"message":"Too many concurrent requests"}}`, sending.Transient, false},
		{"server error", 503, `{"error":{"code":503,"message":"backend unavailable"}}`, sending.Transient, false},
		{"invalid recipient", 400, `{"error":{"code":400,"message":"Invalid To header"}}`, sending.Permanent, true},
		{"bad message", 400, `{"error":{"code":400,"message":"Message too large"}}`, sending.Permanent, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newGmailServer(t, tt.status, tt.body)
			_, err := NewGmail(srv.URL, 0).Send(context.Background(), testCred, testMessage())
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, sending.Classify(err))
			assert.Equal(t, tt.wantInvalid, sending.IsInvalidRecipient(err))

			var te *sending.TransmissionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
		})
	}
}

func TestGmailSend_MissingToken(t *testing.T) {
	_, err := NewGmail("http://unused", 0).Send(context.Background(), &sending.Credential{UserID: "u1"}, testMessage())
	assert.Equal(t, sending.AuthFailure, sending.Classify(err))
}

func TestGmailSend_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewGmail(url, 0).Send(context.Background(), testCred, testMessage())
	require.Error(t, err)
	assert.Equal(t, sending.Transient, sending.Classify(err))
}
