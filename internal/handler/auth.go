package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/service"
)

// --- Cookie helpers ---

func (h *Handler) sameSite() http.SameSite {
	switch strings.ToLower(h.cfg.Cookie.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// setTokenCookie stores the access token for browser clients
func (h *Handler) setTokenCookie(w http.ResponseWriter, accessToken string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    accessToken,
		Path:     "/",
		Domain:   h.cfg.Cookie.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: h.sameSite(),
	})
}

// --- Registration Handler ---

type registerRequest struct {
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"max=200"`
}

// Register creates a new account
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.authSvc.Register(r.Context(), service.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Meta:     requestMeta(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// --- Login Handler ---

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Login verifies credentials, sets the session cookie and returns the token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.authSvc.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.setTokenCookie(w, resp.Token.AccessToken, time.Duration(resp.Token.ExpiresIn)*time.Second)
	writeJSON(w, http.StatusOK, resp)
}

// --- Google Sign-In Handler ---

type googleLoginRequest struct {
	Credential string `json:"credential" validate:"required"`
}

// GoogleLogin signs in with a Google Identity Services credential and sets
// the session cookie like Login
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.authSvc.LoginWithGoogle(r.Context(), req.Credential, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.setTokenCookie(w, resp.Token.AccessToken, time.Duration(resp.Token.ExpiresIn)*time.Second)
	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the presented token and clears the cookie
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.Logout(r.Context(), middleware.GetClaims(r.Context()), requestMeta(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.clearTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.authSvc.Me(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
