package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/service"
)

const maxCampaignListLimit = 200

type campaignRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Subject  string `json:"subject" validate:"required,max=300"`
	FromName string `json:"fromName" validate:"required,max=200"`
	ReplyTo  string `json:"replyTo" validate:"omitempty,max=320"`
	HTML     string `json:"html" validate:"required"`
}

func (req campaignRequest) input() service.CampaignInput {
	return service.CampaignInput{
		Title:    req.Title,
		Subject:  req.Subject,
		FromName: req.FromName,
		ReplyTo:  req.ReplyTo,
		HTML:     req.HTML,
	}
}

type sendRequest struct {
	CampaignID string `json:"campaignId" validate:"required"`
	ListID     string `json:"listId" validate:"required"`
}

type scheduleRequest struct {
	CampaignID  string    `json:"campaignId" validate:"required"`
	ListID      string    `json:"listId" validate:"required"`
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

// ListCampaigns returns the caller's campaigns. Supports ?status=, ?q= and
// ?limit= (at most 200).
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.CampaignFilter

	if raw := q.Get("status"); raw != "" {
		status, ok := model.ParseCampaignStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_status", "Unknown campaign status")
			return
		}
		filter.Status = &status
	}
	filter.Search = q.Get("q")

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxCampaignListLimit)
	}

	campaigns, err := h.campaignSvc.List(r.Context(), middleware.GetUserID(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if campaigns == nil {
		campaigns = []*model.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns})
}

// CreateCampaign creates a draft
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.campaignSvc.Create(r.Context(), middleware.GetUserID(r.Context()), req.input(), requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCampaign returns one campaign
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaignSvc.Get(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCampaign replaces the content of a draft or scheduled campaign
func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.campaignSvc.Update(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), req.input(), requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DuplicateCampaign copies a campaign into a new draft
func (h *Handler) DuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaignSvc.Duplicate(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// DeleteCampaign removes a campaign and its send logs
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaignSvc.Delete(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), requestMeta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendCampaign dispatches a campaign to a list and returns the pass counts
func (h *Handler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.campaignSvc.SendNow(r.Context(), middleware.GetUserID(r.Context()), req.CampaignID, req.ListID, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ScheduleCampaign sets the time a campaign goes out
func (h *Handler) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.campaignSvc.Schedule(r.Context(), middleware.GetUserID(r.Context()), req.CampaignID, req.ListID, req.ScheduledAt, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CancelCampaign returns a scheduled campaign to draft
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaignSvc.Cancel(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), requestMeta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
