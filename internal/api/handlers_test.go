package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatcher/internal/attachments"
	"github.com/ignite/campaign-dispatcher/internal/auth"
	"github.com/ignite/campaign-dispatcher/internal/dispatch"
	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/progress"
	"github.com/ignite/campaign-dispatcher/internal/quota"
	"github.com/ignite/campaign-dispatcher/internal/render"
	"github.com/ignite/campaign-dispatcher/internal/repository/memory"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
	"github.com/ignite/campaign-dispatcher/internal/service/suppression"
)

// fakeDispatcher tracks campaign status in memory.
type fakeDispatcher struct {
	mu       sync.Mutex
	status   map[string]domain.CampaignStatus
	startErr error
}

func (d *fakeDispatcher) Start(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.status[id] = domain.CampaignSending
	return nil
}

func (d *fakeDispatcher) Pause(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status[id] != domain.CampaignSending {
		return domain.ErrInvalidTransition
	}
	d.status[id] = domain.CampaignPaused
	return nil
}

func (d *fakeDispatcher) Resume(ctx context.Context, id string) error { return d.Start(ctx, id) }

func (d *fakeDispatcher) Progress(_ context.Context, id string) (domain.Progress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.status[id]
	if s == "" {
		s = domain.CampaignDraft
	}
	return domain.Progress{CampaignID: id, Status: s}, nil
}

type fakeOAuth struct{}

func (fakeOAuth) ConnectURL(userID string) (string, string, error) {
	return "https://accounts.example.com/auth?state=s-" + userID, "s-" + userID, nil
}

func (fakeOAuth) Complete(_ context.Context, state, _ string) (*domain.SendingAccount, error) {
	if state != "s-u1" {
		return nil, auth.ErrInvalidState
	}
	return &domain.SendingAccount{UserID: "u1", Email: "me@example.com", AccessToken: "secret"}, nil
}

type apiFixture struct {
	db     *memory.DB
	disp   *fakeDispatcher
	broker *progress.MemoryBroker
	h      *Handlers
	srv    http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	blobs, err := attachments.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	db := memory.New()
	f := &apiFixture{
		db:     db,
		disp:   &fakeDispatcher{status: make(map[string]domain.CampaignStatus)},
		broker: progress.NewMemoryBroker(),
	}
	f.h = NewHandlers(Deps{
		Campaigns: campaign.NewService(campaign.Deps{
			Campaigns:    db.Campaigns(),
			Recipients:   db.Recipients(),
			Suppressions: db.Suppressions(),
			Templates:    render.NewEngine(),
			Attachments:  blobs,
			Dispatcher:   f.disp,
		}),
		Suppressions: suppression.NewService(db.Suppressions()),
		Quota:        quota.NewMemoryTracker(quota.Policy{DefaultLimit: 500}),
		Broker:       f.broker,
		OAuth:        fakeOAuth{},
		Accounts:     db.Accounts(),
	})
	f.h.ping = 10 * time.Millisecond
	f.srv = SetupRoutes(f.h, []string{"http://localhost:5173"})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) create(t *testing.T) domain.Campaign {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name":             "Launch",
		"subject_template": "Hi {{name}}",
		"body_template":    "Welcome {{name}} from {{company}}",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c domain.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	return c
}

func (f *apiFixture) upload(t *testing.T, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, _ = part.Write([]byte(content))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var e httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestRequiresUserHeader(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/campaigns", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCampaignLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)
	assert.Equal(t, domain.CampaignDraft, c.Status)

	rec := f.upload(t, "/api/campaigns/"+c.ID+"/recipients", "contacts.csv",
		"name,email,company\nAda,ada@example.com,Acme\nBob,not-an-address,Acme\nAda again,ADA@example.com,Acme\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res campaign.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Admitted)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, res.Duplicates)

	rec = f.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var p domain.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, domain.CampaignSending, p.Status)

	rec = f.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/pause", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/campaigns/"+c.ID+"/recipients?status=skipped", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not-an-address")
}

func TestImportRecipients_RawCSVBody(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/"+c.ID+"/recipients",
		strings.NewReader("email,name,company\nzoe@example.com,Zoe,Initech\n"))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"admitted":1`)
}

func TestImportRecipients_MissingVariables(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)

	rec := f.upload(t, "/api/campaigns/"+c.ID+"/recipients", "contacts.csv", "email,name\na@example.com,A\n")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "missing_variables", e.Code)
	assert.Equal(t, []interface{}{"company"}, e.Details)
}

func TestStart_NoRecipients(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)

	rec := f.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/start", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_recipients", decodeError(t, rec).Code)
}

func TestStart_LockedElsewhere(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)
	f.upload(t, "/api/campaigns/"+c.ID+"/recipients", "c.csv", "email,name,company\na@example.com,A,B\n")
	f.disp.startErr = dispatch.ErrLocked

	rec := f.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_running", decodeError(t, rec).Code)
}

func TestGetCampaign_OtherUser(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)

	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/"+c.ID, nil)
	req.Header.Set(UserHeader, "someone-else")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCampaign_Validation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{"name": "", "subject_template": "s", "body_template": "b"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns", strings.NewReader("{"))
	req.Header.Set(UserHeader, "u1")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTemplate_FrozenAfterStart(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)
	f.upload(t, "/api/campaigns/"+c.ID+"/recipients", "c.csv", "email,name,company\na@example.com,A,B\n")

	rec := f.do(t, http.MethodPut, "/api/campaigns/"+c.ID+"/template", map[string]string{"subject_template": "Hello {{name}}"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Hello {{name}}")

	// The fake dispatcher does not persist status, so freeze it directly.
	require.NoError(t, f.db.Campaigns().TransitionStatus(context.Background(), c.ID,
		[]domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignSending, domain.PauseNone, ""))

	rec = f.do(t, http.MethodPut, "/api/campaigns/"+c.ID+"/template", map[string]string{"subject_template": "Bye"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "campaign_frozen", decodeError(t, rec).Code)
}

func TestAttachments(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)

	rec := f.upload(t, "/api/campaigns/"+c.ID+"/attachments", "terms.txt", "read me")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var a domain.Attachment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "terms.txt", a.Filename)
	assert.Equal(t, int64(7), a.Size)

	rec = f.do(t, http.MethodDelete, "/api/campaigns/"+c.ID+"/attachments/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/campaigns/"+c.ID+"/attachments/"+a.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)
	f.create(t)

	rec := f.do(t, http.MethodGet, "/api/campaigns?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Campaigns []domain.Campaign `json:"campaigns"`
		Total     int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)

	rec = f.do(t, http.MethodDelete, "/api/campaigns/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/campaigns/"+c.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSentEmails_EmptyList(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)

	rec := f.do(t, http.MethodGet, "/api/campaigns/"+c.ID+"/sent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"records":[],"total":0}`, rec.Body.String())
}

func TestTemplateVariables(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/template/variables", map[string]string{
		"subject_template": "Hi {{first_name}}",
		"body_template":    "{{first_name}}, your code is {{code}}",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"variables":["first_name","code"]}`, rec.Body.String())
}

func TestQuota(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var u domain.QuotaUsage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "u1", u.Identity)
	assert.Equal(t, 500, u.Limit)
	assert.Equal(t, 500, u.Remaining)
}

func TestSuppressions(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/suppressions", map[string]string{"email": "Gone@Example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/suppressions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gone@example.com")

	rec = f.do(t, http.MethodGet, "/api/suppressions/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"manual":1`)

	rec = f.do(t, http.MethodDelete, "/api/suppressions?email=gone@example.com", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/suppressions?email=gone@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccount(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/account", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_account", decodeError(t, rec).Code)

	require.NoError(t, f.db.Accounts().SaveAccount(context.Background(), &domain.SendingAccount{
		UserID: "u1", Email: "me@example.com", AccessToken: "secret-token",
	}))
	rec = f.do(t, http.MethodGet, "/api/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "me@example.com")
	assert.NotContains(t, rec.Body.String(), "secret-token")
}

func TestGoogleOAuthRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/connect?user_id=u1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "state=s-u1")

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=s-u1&code=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=forged&code=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: relation \"campaigns\" does not exist"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
}

func TestStreamProgress(t *testing.T) {
	f := newAPIFixture(t)
	c := f.create(t)
	f.disp.status[c.ID] = domain.CampaignSending

	srv := httptest.NewServer(f.srv)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/campaigns/"+c.ID+"/progress/stream?user_id=u1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.broker.Subscribers(c.ID) == 1 }, time.Second, 5*time.Millisecond)
	f.broker.Publish(context.Background(), domain.Progress{CampaignID: c.ID, Status: domain.CampaignSending, Sent: 1, Total: 2})
	f.broker.Publish(context.Background(), domain.Progress{CampaignID: c.ID, Status: domain.CampaignCompleted, Sent: 2, Total: 2})

	var snapshots []domain.Progress
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") || line == "data: {}" {
			continue
		}
		var p domain.Progress
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &p))
		snapshots = append(snapshots, p)
	}

	require.Len(t, snapshots, 3)
	assert.Equal(t, domain.CampaignSending, snapshots[0].Status)
	assert.Equal(t, 1, snapshots[1].Sent)
	assert.Equal(t, domain.CampaignCompleted, snapshots[2].Status)
}
