package service

import (
	"context"
	"fmt"

	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/model"
)

// RecentLogLimit caps the send logs returned with a campaign report
const RecentLogLimit = 500

// ReportStore is the send log reporting the dashboard needs
type ReportStore interface {
	StatsByCampaign(ctx context.Context, campaignID string) (*model.CampaignStats, error)
	StatsByUser(ctx context.Context, userID string) (map[string]model.CampaignStats, error)
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.SendLog, error)
}

// CampaignDetail is one campaign with its newest logs and totals
type CampaignDetail struct {
	Campaign *model.Campaign      `json:"campaign"`
	Logs     []*model.SendLog     `json:"logs"`
	Summary  *model.CampaignStats `json:"summary"`
}

// DashboardService builds engagement reports
type DashboardService struct {
	campaigns CampaignRepo
	reports   ReportStore
	log       *logger.Logger
}

// NewDashboardService creates a new DashboardService
func NewDashboardService(campaigns CampaignRepo, reports ReportStore, log *logger.Logger) *DashboardService {
	return &DashboardService{
		campaigns: campaigns,
		reports:   reports,
		log:       log.WithComponent("dashboard_service"),
	}
}

// Campaigns returns every campaign of the owner with its aggregates.
// Campaigns that were never sent carry zero stats.
func (s *DashboardService) Campaigns(ctx context.Context, ownerID string) ([]model.CampaignReport, error) {
	campaigns, err := s.campaigns.List(ctx, ownerID, model.CampaignFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	stats, err := s.reports.StatsByUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	reports := make([]model.CampaignReport, 0, len(campaigns))
	for _, c := range campaigns {
		st, ok := stats[c.ID]
		if !ok {
			st = model.CampaignStats{CampaignID: c.ID}
		}
		reports = append(reports, model.CampaignReport{Campaign: *c, Stats: st})
	}
	return reports, nil
}

// Campaign returns one campaign's detail report
func (s *DashboardService) Campaign(ctx context.Context, ownerID, campaignID string) (*CampaignDetail, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID, ownerID)
	if err != nil {
		return nil, mapCampaignLookup(err)
	}

	logs, err := s.reports.ListByCampaign(ctx, campaignID, RecentLogLimit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*model.SendLog{}
	}
	summary, err := s.reports.StatsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	return &CampaignDetail{Campaign: c, Logs: logs, Summary: summary}, nil
}
