package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatcher/internal/domain"
	"github.com/ignite/campaign-dispatcher/internal/service/campaign"
)

func TestReplaceRecipients_DraftOnly(t *testing.T) {
	ctx := context.Background()
	db := New()
	_, err := db.Campaigns().Create(ctx, &domain.Campaign{ID: "c1", UserID: "u1", Status: domain.CampaignDraft})
	require.NoError(t, err)

	recipients := db.Recipients()
	require.NoError(t, recipients.ReplaceRecipients(ctx, "c1", []domain.Recipient{
		{ID: "r1", Position: 1, Email: "a@example.com", Status: domain.RecipientPending},
	}))
	require.NoError(t, db.Campaigns().TransitionStatus(ctx, "c1",
		[]domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignSending, domain.PauseNone, ""))
	require.NoError(t, recipients.MarkSent(ctx, "r1", 1, domain.SentEmailRecord{
		ID: "s1", CampaignID: "c1", RecipientID: "r1", Email: "a@example.com", Status: domain.RecipientSent,
	}))

	err = recipients.ReplaceRecipients(ctx, "c1", []domain.Recipient{
		{ID: "r2", Position: 1, Email: "a@example.com", Status: domain.RecipientPending},
	})
	assert.ErrorIs(t, err, domain.ErrCampaignFrozen)

	counts, err := recipients.CountByStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.RecipientStatus]int{domain.RecipientSent: 1}, counts)
}

func TestReplaceRecipients_UnknownCampaign(t *testing.T) {
	err := New().Recipients().ReplaceRecipients(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
