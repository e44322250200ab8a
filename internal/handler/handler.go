package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/middleware"
	"github.com/mailchymp/mailchymp/internal/service"
)

// HealthChecker is a dependency the health endpoints check
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db           HealthChecker
	rdb          HealthChecker
	log          *logger.Logger
	cfg          *config.Config
	validate     *validator.Validate
	authSvc      *service.AuthService
	gmailSvc     *service.GmailService
	listSvc      *service.ListService
	campaignSvc  *service.CampaignService
	dashboardSvc *service.DashboardService
	trackingSvc  *service.TrackingService
}

// Services bundles the domain services the handlers delegate to
type Services struct {
	Auth      *service.AuthService
	Gmail     *service.GmailService
	Lists     *service.ListService
	Campaigns *service.CampaignService
	Dashboard *service.DashboardService
	Tracking  *service.TrackingService
}

// New creates a new Handler instance
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, svcs Services) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// report json names in validation details
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		db:           db,
		rdb:          rdb,
		log:          log.WithComponent("handler"),
		cfg:          cfg,
		validate:     validate,
		authSvc:      svcs.Auth,
		gmailSvc:     svcs.Gmail,
		listSvc:      svcs.Lists,
		campaignSvc:  svcs.Campaigns,
		dashboardSvc: svcs.Dashboard,
		trackingSvc:  svcs.Tracking,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
	if details != nil {
		resp["error"].(map[string]interface{})["details"] = details
	}
	if reqID := middleware.GetRequestID(r.Context()); reqID != "" {
		resp["error"].(map[string]interface{})["request_id"] = reqID
	}
	writeJSON(w, status, resp)
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// decode reads the body into v and runs its validate tags. On failure the
// error response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := readJSON(r, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]interface{}, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			writeErrorWithDetails(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed", details)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// writeServiceError maps domain errors onto HTTP responses. Anything
// unrecognized is logged and reported as a 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrCampaignNotFound):
		writeError(w, http.StatusNotFound, "campaign_not_found", "Campaign not found")
	case errors.Is(err, service.ErrListNotFound):
		writeError(w, http.StatusNotFound, "list_not_found", "List not found")
	case errors.Is(err, service.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, "member_not_found", err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "User not found")
	case errors.Is(err, service.ErrListEmpty):
		writeError(w, http.StatusBadRequest, "list_empty", "List has no active subscribers")
	case errors.Is(err, service.ErrGmailNotConnected):
		writeError(w, http.StatusBadRequest, "gmail_not_connected", "Connect a Gmail account first")
	case errors.Is(err, service.ErrCampaignBusy), errors.Is(err, service.ErrCampaignSending):
		writeError(w, http.StatusConflict, "campaign_busy", err.Error())
	case errors.Is(err, service.ErrCampaignNotEditable),
		errors.Is(err, service.ErrCampaignNotSchedulable),
		errors.Is(err, service.ErrCampaignNotScheduled):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, service.ErrScheduleTooSoon):
		writeError(w, http.StatusBadRequest, "schedule_too_soon", err.Error())
	case errors.Is(err, service.ErrInvalidCampaign),
		errors.Is(err, service.ErrInvalidReplyTo),
		errors.Is(err, service.ErrInvalidListName),
		errors.Is(err, service.ErrInvalidSubscriber),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrPasswordTooWeak):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, "email_exists", err.Error())
	case errors.Is(err, service.ErrSubscriberExists):
		writeError(w, http.StatusConflict, "subscriber_exists", err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, service.ErrGoogleCredential):
		writeError(w, http.StatusUnauthorized, "invalid_google_credential", "Google credential is invalid")
	case errors.Is(err, service.ErrGoogleDisabled):
		writeError(w, http.StatusServiceUnavailable, "google_signin_disabled", err.Error())
	case errors.Is(err, service.ErrAccountLocked):
		writeError(w, http.StatusTooManyRequests, "account_locked", "Too many failed attempts, try again later")
	case errors.Is(err, service.ErrInvalidOAuthState):
		writeError(w, http.StatusBadRequest, "invalid_oauth_state", err.Error())
	case errors.Is(err, service.ErrNoRefreshToken):
		writeError(w, http.StatusBadRequest, "no_refresh_token", err.Error())
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
