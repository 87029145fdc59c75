package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-dispatcher/internal/auth"
	"github.com/ignite/campaign-dispatcher/internal/dispatch"
	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
	"github.com/ignite/campaign-dispatcher/internal/service/suppression"
)

// apiErrors is the status and code every known service error is answered with.
var apiErrors = httputil.ErrorMap{
	{Match: isMissingVariables, Status: http.StatusUnprocessableEntity, Code: "missing_variables", Details: missingVariables},

	{Match: httputil.Is(auth.ErrNoAccount), Status: http.StatusNotFound, Code: "no_account"},
	{Match: httputil.Is(campaign.ErrNotFound, campaign.ErrAttachmentNotFound, suppression.ErrNotFound), Status: http.StatusNotFound, Code: "not_found"},

	{Match: httputil.Is(domain.ErrInvalidTransition), Status: http.StatusConflict, Code: "invalid_transition"},
	{Match: httputil.Is(domain.ErrCampaignFrozen), Status: http.StatusConflict, Code: "campaign_frozen"},
	{Match: httputil.Is(domain.ErrStatusConflict), Status: http.StatusConflict, Code: "status_conflict"},
	{Match: httputil.Is(dispatch.ErrAlreadyRunning, dispatch.ErrLocked), Status: http.StatusConflict, Code: "already_running"},
	{Match: httputil.Is(campaign.ErrRunning), Status: http.StatusConflict, Code: "campaign_running"},

	{Match: httputil.Is(campaign.ErrValidation), Status: http.StatusUnprocessableEntity, Code: "validation"},
	{Match: httputil.Is(campaign.ErrNoRecipients), Status: http.StatusUnprocessableEntity, Code: "no_recipients"},
	{Match: httputil.Is(campaign.ErrAttachmentTooLarge), Status: http.StatusRequestEntityTooLarge, Code: "attachment_too_large"},
	{Match: httputil.Is(auth.ErrInvalidState), Status: http.StatusBadRequest, Code: "invalid_state"},
}

func writeError(w http.ResponseWriter, err error) {
	apiErrors.Write(w, err)
}

func isMissingVariables(err error) bool {
	var missing *campaign.MissingVariablesError
	return errors.As(err, &missing)
}

func missingVariables(err error) any {
	var missing *campaign.MissingVariablesError
	if errors.As(err, &missing) {
		return missing.Missing
	}
	return nil
}
