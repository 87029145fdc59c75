package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		legal    bool
	}{
		{CampaignDraft, CampaignSending, true},
		{CampaignSending, CampaignPaused, true},
		{CampaignPaused, CampaignSending, true},
		{CampaignSending, CampaignCompleted, true},
		{CampaignSending, CampaignFailed, true},
		{CampaignPaused, CampaignCompleted, true},
		{CampaignDraft, CampaignPaused, false},
		{CampaignDraft, CampaignCompleted, false},
		{CampaignPaused, CampaignFailed, false},
		{CampaignCompleted, CampaignSending, false},
		{CampaignFailed, CampaignSending, false},
		{CampaignSending, CampaignDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.legal, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestCampaign_Transition(t *testing.T) {
	c := &Campaign{Status: CampaignDraft}

	require.NoError(t, c.Transition(CampaignSending, PauseNone))
	require.NoError(t, c.Transition(CampaignPaused, PauseQuotaExhausted))
	assert.Equal(t, PauseQuotaExhausted, c.PauseReason)

	require.NoError(t, c.Transition(CampaignSending, PauseNone))
	assert.Equal(t, PauseNone, c.PauseReason, "resuming clears the pause reason")

	require.NoError(t, c.Transition(CampaignCompleted, PauseNone))
	assert.True(t, c.IsTerminal())

	err := c.Transition(CampaignSending, PauseNone)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, CampaignCompleted, c.Status, "rejected transition leaves status unchanged")
}

func TestCampaign_IsMutable(t *testing.T) {
	for _, s := range []CampaignStatus{CampaignSending, CampaignPaused, CampaignCompleted, CampaignFailed} {
		c := &Campaign{Status: s}
		assert.False(t, c.IsMutable(), s)
	}
	assert.True(t, (&Campaign{Status: CampaignDraft}).IsMutable())
}

func TestNewProgress(t *testing.T) {
	c := &Campaign{ID: "c1", Status: CampaignPaused, PauseReason: PauseQuotaExhausted}
	p := NewProgress(c, map[RecipientStatus]int{
		RecipientSent:    2,
		RecipientPending: 1,
		RecipientSkipped: 1,
	})

	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 2, p.Sent)
	assert.Equal(t, 1, p.Pending)
	assert.Equal(t, PauseQuotaExhausted, p.PauseReason)
	assert.False(t, p.Done())
}
