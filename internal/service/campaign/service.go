package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatcher/internal/attachments"
	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/logger"
	"github.com/ignite/campaign-dispatcher/internal/queue"
)

// MaxAttachmentBytes caps the combined size of a campaign's attachments.
const MaxAttachmentBytes = 25 << 20

// Dispatcher runs the send loop of a campaign.
type Dispatcher interface {
	Start(ctx context.Context, campaignID string) error
	Pause(ctx context.Context, campaignID string) error
	Resume(ctx context.Context, campaignID string) error
	Progress(ctx context.Context, campaignID string) (domain.Progress, error)
}

// TemplateEngine validates templates and lists the variables they reference.
type TemplateEngine interface {
	Validate(syntax domain.TemplateSyntax, tpl string) error
	Variables(syntax domain.TemplateSyntax, tpl string) []string
}

// Deps are the collaborators of a Service. Suppressions may be nil.
type Deps struct {
	Campaigns    Repository
	Recipients   queue.Store
	Suppressions queue.Suppressor
	Templates    TemplateEngine
	Attachments  attachments.Store
	Dispatcher   Dispatcher
}

// Service implements campaign setup and lifecycle commands. All public
// methods are safe for concurrent use if the underlying repositories are.
type Service struct {
	repo       Repository
	recipients queue.Store
	sup        queue.Suppressor
	templates  TemplateEngine
	blobs      attachments.Store
	dispatcher Dispatcher
}

// NewService creates a campaign service.
func NewService(d Deps) *Service {
	return &Service{
		repo:       d.Campaigns,
		recipients: d.Recipients,
		sup:        d.Suppressions,
		templates:  d.Templates,
		blobs:      d.Attachments,
		dispatcher: d.Dispatcher,
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name            string                `json:"name"`
	SubjectTemplate string                `json:"subject_template"`
	BodyTemplate    string                `json:"body_template"`
	BodyIsHTML      bool                  `json:"body_is_html"`
	Syntax          domain.TemplateSyntax `json:"template_syntax"`
	DailyLimit      int                   `json:"daily_limit"`
}

// TemplateInput holds the template fields of a draft. Nil fields are kept.
type TemplateInput struct {
	Name            *string                `json:"name"`
	SubjectTemplate *string                `json:"subject_template"`
	BodyTemplate    *string                `json:"body_template"`
	BodyIsHTML      *bool                  `json:"body_is_html"`
	Syntax          *domain.TemplateSyntax `json:"template_syntax"`
	DailyLimit      *int                   `json:"daily_limit"`
}

// ImportResult summarises a contact upload.
type ImportResult struct {
	Total      int      `json:"total"`
	Admitted   int      `json:"admitted"`
	Skipped    int      `json:"skipped"`
	Invalid    int      `json:"invalid"`
	Suppressed int      `json:"suppressed"`
	Duplicates int      `json:"duplicates"`
	Columns    []string `json:"columns"`
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, userID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, userID, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Campaign, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Syntax == "" {
		in.Syntax = domain.SyntaxSimple
	}
	if err := s.validateTemplates(in.Syntax, in.SubjectTemplate, in.BodyTemplate); err != nil {
		return nil, err
	}
	if in.DailyLimit < 0 {
		return nil, fmt.Errorf("%w: daily_limit must not be negative", ErrValidation)
	}

	c := &domain.Campaign{
		ID:              uuid.New().String(),
		UserID:          userID,
		Name:            strings.TrimSpace(in.Name),
		SubjectTemplate: in.SubjectTemplate,
		BodyTemplate:    in.BodyTemplate,
		BodyIsHTML:      in.BodyIsHTML,
		Syntax:          in.Syntax,
		Status:          domain.CampaignDraft,
	}
	if in.DailyLimit > 0 {
		limit := in.DailyLimit
		c.DailyLimit = &limit
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	logger.Info("campaign created", "campaign_id", id, "user_id", userID)
	return c, nil
}

// UpdateTemplate changes the templates of a draft. When contacts were already
// imported, the new templates must not reference columns the file lacks.
func (s *Service) UpdateTemplate(ctx context.Context, userID, id string, in TemplateInput) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsMutable() {
		return nil, domain.ErrCampaignFrozen
	}

	syntax, subject, body := c.EffectiveSyntax(), c.SubjectTemplate, c.BodyTemplate
	if in.Syntax != nil {
		syntax = *in.Syntax
	}
	if in.SubjectTemplate != nil {
		subject = *in.SubjectTemplate
	}
	if in.BodyTemplate != nil {
		body = *in.BodyTemplate
	}
	if err := s.validateTemplates(syntax, subject, body); err != nil {
		return nil, err
	}
	if len(c.ContactColumns) > 0 {
		if missing := s.missingVariables(syntax, subject, body, c.ContactColumns); len(missing) > 0 {
			return nil, &MissingVariablesError{Missing: missing}
		}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if in.DailyLimit != nil && *in.DailyLimit < 0 {
		return nil, fmt.Errorf("%w: daily_limit must not be negative", ErrValidation)
	}

	u := UpdateFields{
		Name:            in.Name,
		SubjectTemplate: in.SubjectTemplate,
		BodyTemplate:    in.BodyTemplate,
		BodyIsHTML:      in.BodyIsHTML,
		Syntax:          in.Syntax,
		DailyLimit:      in.DailyLimit,
	}
	if err := s.repo.Update(ctx, userID, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID, id)
}

// Delete removes a campaign with its recipients, records and attachment blobs.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	for _, a := range c.Attachments {
		if err := s.blobs.Delete(ctx, a.StorageKey); err != nil && !errors.Is(err, attachments.ErrNotFound) {
			logger.Warn("delete attachment blob failed", "campaign_id", id, "key", a.StorageKey, "error", err)
		}
	}
	logger.Info("campaign deleted", "campaign_id", id, "user_id", userID)
	return nil
}

// AddAttachment stores a file and attaches it to a draft.
func (s *Service) AddAttachment(ctx context.Context, userID, id, filename, contentType string, content []byte) (*domain.Attachment, error) {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsMutable() {
		return nil, domain.ErrCampaignFrozen
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: attachment is empty", ErrValidation)
	}
	total := int64(len(content))
	for _, a := range c.Attachments {
		total += a.Size
	}
	if total > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := domain.Attachment{
		ID:          uuid.New().String(),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
	}
	att.StorageKey = attachments.Key(c.ID, att.ID)
	if err := s.blobs.Put(ctx, att.StorageKey, contentType, content); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	list := append(c.Attachments, att)
	if err := s.repo.Update(ctx, userID, id, UpdateFields{Attachments: &list}); err != nil {
		_ = s.blobs.Delete(ctx, att.StorageKey)
		return nil, err
	}
	return &att, nil
}

// RemoveAttachment detaches a file from a draft and deletes its blob.
func (s *Service) RemoveAttachment(ctx context.Context, userID, id, attachmentID string) error {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !c.IsMutable() {
		return domain.ErrCampaignFrozen
	}

	var removed *domain.Attachment
	list := make([]domain.Attachment, 0, len(c.Attachments))
	for i := range c.Attachments {
		if c.Attachments[i].ID == attachmentID {
			removed = &c.Attachments[i]
			continue
		}
		list = append(list, c.Attachments[i])
	}
	if removed == nil {
		return ErrAttachmentNotFound
	}
	if err := s.repo.Update(ctx, userID, id, UpdateFields{Attachments: &list}); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, removed.StorageKey); err != nil && !errors.Is(err, attachments.ErrNotFound) {
		logger.Warn("delete attachment blob failed", "campaign_id", id, "key", removed.StorageKey, "error", err)
	}
	return nil
}

// ImportRecipients replaces the recipient list of a draft with the contacts
// in r. The upload is rejected when the templates reference a variable the
// file has no column for.
func (s *Service) ImportRecipients(ctx context.Context, userID, id string, r io.Reader) (*ImportResult, error) {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !c.IsMutable() {
		return nil, domain.ErrCampaignFrozen
	}

	file, err := queue.ParseContacts(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if missing := s.missingVariables(c.EffectiveSyntax(), c.SubjectTemplate, c.BodyTemplate, file.Columns); len(missing) > 0 {
		return nil, &MissingVariablesError{Missing: missing}
	}

	res, err := queue.Admit(ctx, s.recipients, s.sup, c, file)
	if err != nil {
		return nil, err
	}
	columns := file.Columns
	if err := s.repo.Update(ctx, userID, id, UpdateFields{ContactColumns: &columns}); err != nil {
		return nil, err
	}

	logger.Info("recipients imported", "campaign_id", id,
		"total", res.Total, "admitted", res.Admitted, "invalid", res.Invalid,
		"suppressed", res.Suppressed, "duplicates", res.Duplicates)
	return &ImportResult{
		Total:      res.Total,
		Admitted:   res.Admitted,
		Skipped:    res.Invalid + res.Suppressed,
		Invalid:    res.Invalid,
		Suppressed: res.Suppressed,
		Duplicates: res.Duplicates,
		Columns:    columns,
	}, nil
}

// Start begins dispatching a draft campaign, or resumes a paused one.
func (s *Service) Start(ctx context.Context, userID, id string) error {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignDraft {
		counts, err := s.recipients.CountByStatus(ctx, id)
		if err != nil {
			return err
		}
		if counts[domain.RecipientPending] == 0 {
			return ErrNoRecipients
		}
	}
	return s.dispatcher.Start(ctx, id)
}

// Pause stops a sending campaign at the next recipient boundary.
func (s *Service) Pause(ctx context.Context, userID, id string) error {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.dispatcher.Pause(ctx, id)
}

// Resume restarts a paused campaign.
func (s *Service) Resume(ctx context.Context, userID, id string) error {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.dispatcher.Resume(ctx, id)
}

// Progress returns the campaign's current snapshot.
func (s *Service) Progress(ctx context.Context, userID, id string) (domain.Progress, error) {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return domain.Progress{}, err
	}
	return s.dispatcher.Progress(ctx, id)
}

// SentEmails returns a page of the campaign's audit trail.
func (s *Service) SentEmails(ctx context.Context, userID, id string, limit, offset int) ([]domain.SentEmailRecord, int, error) {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.recipients.ListSent(ctx, id, limit, offset)
}

// Recipients returns a page of the campaign's recipients.
func (s *Service) Recipients(ctx context.Context, userID, id string, f queue.Filter) ([]domain.Recipient, int, error) {
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return nil, 0, err
	}
	return s.recipients.ListRecipients(ctx, id, f)
}

// Variables lists the variables referenced by a subject and body pair.
func (s *Service) Variables(syntax domain.TemplateSyntax, subject, body string) []string {
	if syntax == "" {
		syntax = domain.SyntaxSimple
	}
	seen := make(map[string]bool)
	var out []string
	for _, tpl := range []string{subject, body} {
		for _, v := range s.templates.Variables(syntax, tpl) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func (s *Service) validateTemplates(syntax domain.TemplateSyntax, subject, body string) error {
	if syntax != domain.SyntaxSimple && syntax != domain.SyntaxLiquid {
		return fmt.Errorf("%w: unknown template syntax %q", ErrValidation, syntax)
	}
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("%w: subject_template is required", ErrValidation)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: body_template is required", ErrValidation)
	}
	if err := s.templates.Validate(syntax, subject); err != nil {
		return fmt.Errorf("%w: subject: %v", ErrValidation, err)
	}
	if err := s.templates.Validate(syntax, body); err != nil {
		return fmt.Errorf("%w: body: %v", ErrValidation, err)
	}
	return nil
}

// missingVariables returns template variables with no matching column. The
// email binding is always present.
func (s *Service) missingVariables(syntax domain.TemplateSyntax, subject, body string, columns []string) []string {
	have := map[string]bool{"email": true}
	for _, c := range columns {
		have[c] = true
	}
	var missing []string
	for _, v := range s.Variables(syntax, subject, body) {
		if !have[v] {
			missing = append(missing, v)
		}
	}
	sort.Strings(missing)
	return missing
}
