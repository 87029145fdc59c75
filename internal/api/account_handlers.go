package api

import (
	"net/http"

	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
)

// ConnectGoogle handles GET /auth/google/connect and redirects to the
// consent screen.
func (h *Handlers) ConnectGoogle(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		httputil.Error(w, http.StatusNotImplemented, "google sending is not configured")
		return
	}
	user := r.Header.Get(UserHeader)
	if user == "" {
		user = r.URL.Query().Get("user_id")
	}
	if user == "" {
		httputil.BadRequest(w, "user_id is required")
		return
	}
	authURL, _, err := h.oauth.ConnectURL(user)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// GoogleCallback handles GET /auth/google/callback
func (h *Handlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		httputil.Error(w, http.StatusNotImplemented, "google sending is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		httputil.BadRequest(w, "authorization denied: "+e)
		return
	}
	acct, err := h.oauth.Complete(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("sending account connected", "user_id", acct.UserID, "email", acct.Email)
	if h.afterConnect != "" {
		http.Redirect(w, r, h.afterConnect, http.StatusFound)
		return
	}
	httputil.OK(w, acct)
}

// GetAccount handles GET /api/account
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		httputil.Error(w, http.StatusNotImplemented, "sending accounts are not configured")
		return
	}
	acct, err := h.accounts.GetAccount(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, acct)
}

// GetQuota handles GET /api/quota
func (h *Handlers) GetQuota(w http.ResponseWriter, r *http.Request) {
	usage, err := h.quota.Usage(r.Context(), userID(r), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, usage)
}
