package handler

import (
	"net/http"

	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/model"
)

type listRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type memberRequest struct {
	Email string `json:"email" validate:"required,max=320"`
	Name  string `json:"name" validate:"max=200"`
}

type memberUpdateRequest struct {
	Email string  `json:"email" validate:"required,max=320"`
	Name  *string `json:"name" validate:"omitempty,max=200"`
}

// ListLists returns the caller's lists
func (h *Handler) ListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.listSvc.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if lists == nil {
		lists = []*model.List{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"lists": lists})
}

// CreateList creates an empty list
func (h *Handler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !h.decode(w, r, &req) {
		return
	}
	list, err := h.listSvc.Create(r.Context(), middleware.GetUserID(r.Context()), req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// GetList returns one list
func (h *Handler) GetList(w http.ResponseWriter, r *http.Request) {
	list, err := h.listSvc.Get(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DeleteList removes a list and its memberships
func (h *Handler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.listSvc.Delete(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers returns the subscribers of a list
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.listSvc.Members(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*model.Subscriber{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": subs})
}

// AddMember adds an address to a list
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.listSvc.AddMember(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), req.Email, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// UpdateMember changes a member's email and optionally its name
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	var req memberUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.listSvc.UpdateMember(r.Context(), middleware.GetUserID(r.Context()),
		r.PathValue("id"), r.PathValue("subscriberId"), req.Email, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// RemoveMember unlinks a subscriber from a list
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.listSvc.RemoveMember(r.Context(), middleware.GetUserID(r.Context()), r.PathValue("id"), r.PathValue("subscriberId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
