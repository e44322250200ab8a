package handler

import (
	"net/http"

	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/model"
)

// DashboardCampaigns returns every campaign of the caller with its aggregates
func (h *Handler) DashboardCampaigns(w http.ResponseWriter, r *http.Request) {
	reports, err := h.dashboardSvc.Campaigns(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if reports == nil {
		reports = []model.CampaignReport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": reports})
}

// DashboardCampaign returns one campaign with its latest logs and summary
func (h *Handler) DashboardCampaign(w http.ResponseWriter, r *http.Request) {
	detail, err := h.dashboardSvc.Campaign(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
