package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/queue"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
)

// ListCampaigns handles GET /api/campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	q := r.URL.Query()
	items, total, err := h.campaigns.List(r.Context(), userID(r), campaign.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Campaign{}
	}
	httputil.List(w, "campaigns", items, total)
}

// CreateCampaign handles POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), userID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign handles GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateTemplate handles PUT /api/campaigns/{id}/template
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in campaign.TemplateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.UpdateTemplate(r.Context(), userID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ImportRecipients handles POST /api/campaigns/{id}/recipients. The contact
// file is either the "file" part of a multipart form or the raw CSV body.
func (h *Handlers) ImportRecipients(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var src io.Reader = r.Body
	if isMultipart(r) {
		if err := r.ParseMultipartForm(h.maxUpload); err != nil {
			httputil.BadRequest(w, "invalid multipart form: "+err.Error())
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			httputil.BadRequest(w, "missing file field")
			return
		}
		defer f.Close()
		src = f
	}

	res, err := h.campaigns.ImportRecipients(r.Context(), userID(r), chi.URLParam(r, "id"), src)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// ListRecipients handles GET /api/campaigns/{id}/recipients
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	items, total, err := h.campaigns.Recipients(r.Context(), userID(r), chi.URLParam(r, "id"), queue.Filter{
		Status: domain.RecipientStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Recipient{}
	}
	httputil.List(w, "recipients", items, total)
}

// AddAttachment handles POST /api/campaigns/{id}/attachments
func (h *Handlers) AddAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		httputil.BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file field")
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		httputil.BadRequest(w, "read file: "+err.Error())
		return
	}
	contentType := hdr.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}

	a, err := h.campaigns.AddAttachment(r.Context(), userID(r), chi.URLParam(r, "id"), hdr.Filename, contentType, content)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Created(w, a)
}

// RemoveAttachment handles DELETE /api/campaigns/{id}/attachments/{attachmentId}
func (h *Handlers) RemoveAttachment(w http.ResponseWriter, r *http.Request) {
	err := h.campaigns.RemoveAttachment(r.Context(), userID(r), chi.URLParam(r, "id"), chi.URLParam(r, "attachmentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// StartCampaign handles POST /api/campaigns/{id}/start
func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.campaigns.Start)
}

// PauseCampaign handles POST /api/campaigns/{id}/pause
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.campaigns.Pause)
}

// ResumeCampaign handles POST /api/campaigns/{id}/resume
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.campaigns.Resume)
}

// command runs a lifecycle command and answers with the resulting snapshot.
// The send loop continues in the background, hence 202.
func (h *Handlers) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), userID(r), id); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.campaigns.Progress(r.Context(), userID(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.Accepted(w, p)
}

// GetProgress handles GET /api/campaigns/{id}/progress
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.campaigns.Progress(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, p)
}

// ListSent handles GET /api/campaigns/{id}/sent
func (h *Handlers) ListSent(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	records, total, err := h.campaigns.SentEmails(r.Context(), userID(r), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.SentEmailRecord{}
	}
	httputil.List(w, "records", records, total)
}

type variablesRequest struct {
	SubjectTemplate string                `json:"subject_template"`
	BodyTemplate    string                `json:"body_template"`
	Syntax          domain.TemplateSyntax `json:"template_syntax"`
}

// TemplateVariables handles POST /api/template/variables
func (h *Handlers) TemplateVariables(w http.ResponseWriter, r *http.Request) {
	var req variablesRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	vars := h.campaigns.Variables(req.Syntax, req.SubjectTemplate, req.BodyTemplate)
	if vars == nil {
		vars = []string{}
	}
	httputil.OK(w, map[string]interface{}{"variables": vars})
}

func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
