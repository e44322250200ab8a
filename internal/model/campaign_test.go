package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignStatus_Transitions(t *testing.T) {
	tests := []struct {
		status    CampaignStatus
		canEdit   bool
		canCancel bool
		canDelete bool
	}{
		{CampaignStatusDraft, true, false, true},
		{CampaignStatusScheduled, true, true, true},
		{CampaignStatusSending, false, false, false},
		{CampaignStatusSent, false, false, true},
		{CampaignStatusFailed, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.canEdit, tt.status.CanEdit())
			assert.Equal(t, tt.canEdit, tt.status.CanSchedule())
			assert.Equal(t, tt.canCancel, tt.status.CanCancel())
			assert.Equal(t, tt.canDelete, tt.status.CanDelete())
		})
	}
}

func TestSendFromSets(t *testing.T) {
	assert.NotContains(t, ManualSendFrom(), CampaignStatusSending)
	assert.Equal(t, []CampaignStatus{CampaignStatusScheduled}, ScheduledSendFrom())
}

func TestFinalStatus(t *testing.T) {
	assert.Equal(t, CampaignStatusFailed, FinalStatus(0))
	assert.Equal(t, CampaignStatusSent, FinalStatus(1))
	assert.Equal(t, CampaignStatusSent, FinalStatus(40))
}

func TestParseCampaignStatus(t *testing.T) {
	st, ok := ParseCampaignStatus(" Scheduled ")
	assert.True(t, ok)
	assert.Equal(t, CampaignStatusScheduled, st)

	_, ok = ParseCampaignStatus("archived")
	assert.False(t, ok)
}
