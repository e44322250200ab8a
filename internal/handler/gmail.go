package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/service"
)

// GmailStatus reports whether the caller has a connected mailbox
func (h *Handler) GmailStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.gmailSvc.Status(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GmailConnect starts the Google consent flow. Browsers are redirected;
// API clients asking for JSON get the consent URL instead.
func (h *Handler) GmailConnect(w http.ResponseWriter, r *http.Request) {
	consentURL, err := h.gmailSvc.ConnectURL(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, map[string]string{"url": consentURL})
		return
	}
	http.Redirect(w, r, consentURL, http.StatusFound)
}

// GmailCallback completes the consent flow and sends the browser back to
// the app with the outcome in the query string
func (h *Handler) GmailCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		http.Redirect(w, r, h.gmailReturnURL("error", reason), http.StatusFound)
		return
	}

	_, err := h.gmailSvc.Callback(r.Context(), q.Get("state"), q.Get("code"), requestMeta(r))
	if err != nil {
		reason := "connect_failed"
		switch {
		case errors.Is(err, service.ErrInvalidOAuthState):
			reason = "invalid_state"
		case errors.Is(err, service.ErrNoRefreshToken):
			reason = "no_refresh_token"
		default:
			h.log.Error().Err(err).Msg("gmail callback failed")
		}
		http.Redirect(w, r, h.gmailReturnURL("error", reason), http.StatusFound)
		return
	}

	http.Redirect(w, r, h.gmailReturnURL("connected", ""), http.StatusFound)
}

func (h *Handler) gmailReturnURL(outcome, reason string) string {
	u, err := url.Parse(h.cfg.Gmail.SuccessURL)
	if err != nil || h.cfg.Gmail.SuccessURL == "" {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("gmail", outcome)
	if reason != "" {
		q.Set("reason", reason)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// GmailDisconnect removes the caller's mailbox
func (h *Handler) GmailDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.gmailSvc.Disconnect(r.Context(), middleware.GetUserID(r.Context()), requestMeta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
