package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/flowgrow/promo-service/internal/domain"
	appCtx "github.com/flowgrow/promo-service/internal/pkg/context"
	"github.com/flowgrow/promo-service/internal/security"
	"github.com/flowgrow/promo-service/internal/service"
	"github.com/flowgrow/promo-service/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type Handler struct {
	auth    *service.AuthService
	profile *service.ProfileService
	match   *service.MatchService
}

func NewHandler(auth *service.AuthService, profile *service.ProfileService, match *service.MatchService) *Handler {
	return &Handler{auth: auth, profile: profile, match: match}
}

// LoginWebApp exchanges a Telegram Mini App initData string for a session token.
func (h *Handler) LoginWebApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitData string `json:"init_data" validate:"required"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if meta := validateRequest(req); meta != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", meta)
		return
	}

	res, err := h.auth.LoginWebApp(r.Context(), traceID(r), req.InitData)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, loginBody(res))
}

// LoginWidget exchanges a Telegram Login Widget payload for a session token.
// The payload is accepted verbatim as a JSON object; numeric fields keep
// their wire form so the signed canonical string can be rebuilt exactly.
func (h *Handler) LoginWidget(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if len(raw) == 0 {
		fail(w, r, http.StatusBadRequest, "request.invalid", "empty payload", nil)
		return
	}

	res, err := h.auth.LoginWidget(r.Context(), traceID(r), security.FlattenClaims(raw))
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, loginBody(res))
}

func loginBody(res service.LoginResult) map[string]any {
	return map[string]any{
		"token": res.Token,
		"user":  res.User,
	}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	user, accounts, err := h.profile.Me(r.Context(), auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"user":     user,
		"accounts": accounts,
	})
}

// CheckFollowers is a best-effort read; failures surface as zero, never 5xx.
func (h *Handler) CheckFollowers(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAuth(r.Context()); !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	platform := domain.ParsePlatform(r.URL.Query().Get("platform"))
	if !platform.Known() {
		fail(w, r, http.StatusBadRequest, "request.invalid", "unsupported platform", map[string]string{
			"platform": "must be one of: INSTAGRAM, TIKTOK, FACEBOOK",
		})
		return
	}

	handle := strings.TrimSpace(r.URL.Query().Get("handle"))
	if handle == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "handle is required", nil)
		return
	}

	count := h.profile.CheckFollowers(r.Context(), platform, handle)
	response.Data(w, http.StatusOK, map[string]any{
		"platform":  platform,
		"handle":    handle,
		"followers": count,
	})
}

func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Platform  string `json:"platform" validate:"required"`
		Handle    string `json:"handle" validate:"required,max=64,handle_format"`
		Followers *int64 `json:"followers"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if meta := validateRequest(req); meta != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", meta)
		return
	}

	platform := domain.ParsePlatform(req.Platform)
	if !platform.Known() {
		fail(w, r, http.StatusBadRequest, "request.invalid", "unsupported platform", map[string]string{
			"platform": "must be one of: INSTAGRAM, TIKTOK, FACEBOOK",
		})
		return
	}

	account, err := h.profile.LinkAccount(r.Context(), traceID(r), auth.UserID, platform, req.Handle, req.Followers)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, account)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		Platform     string `json:"platform" validate:"required"`
		Budget       int64  `json:"budget" validate:"min=0"`
		Requirements string `json:"requirements" validate:"max=2048"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if meta := validateRequest(req); meta != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", meta)
		return
	}

	platform := domain.ParsePlatform(req.Platform)
	if !platform.Known() {
		fail(w, r, http.StatusBadRequest, "request.invalid", "unsupported platform", map[string]string{
			"platform": "must be one of: INSTAGRAM, TIKTOK, FACEBOOK",
		})
		return
	}

	order, err := h.match.CreateOrder(r.Context(), auth.UserID, platform, req.Budget, req.Requirements)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAuth(r.Context()); !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid orderID", map[string]string{
			"order_id": "must be a valid uuid",
		})
		return
	}

	order, tasks, err := h.match.GetOrder(r.Context(), orderID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"order": order,
		"tasks": tasks,
	})
}

func (h *Handler) MatchOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAuth(r.Context()); !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		OrderID string `json:"order_id" validate:"required"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid order_id", map[string]string{
			"order_id": "must be a valid uuid",
		})
		return
	}

	task, err := h.match.Match(r.Context(), traceID(r), orderID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, task)
}

// ListUsers returns every user with their linked accounts, for the
// operator dashboard.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAuth(r.Context()); !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	users, err := h.profile.ListUsers(r.Context())
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, users)
}

// UpsertUser registers a user by Telegram id with an explicit role,
// or reassigns the role of an existing one. This is the only path that
// grants CREATOR; Telegram logins always enroll as PROMOTER.
func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetAuth(r.Context()); !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req struct {
		TelegramID string `json:"telegram_id" validate:"required,max=64"`
		Username   string `json:"username" validate:"max=64"`
		Role       string `json:"role" validate:"required,oneof=CREATOR PROMOTER"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if meta := validateRequest(req); meta != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", meta)
		return
	}

	user, err := h.profile.RegisterUser(r.Context(), traceID(r), req.TelegramID, req.Username, domain.Role(req.Role))
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, user)
}

func traceID(r *http.Request) string {
	return appCtx.TraceIDOr(r.Context())
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		fail(w, r, http.StatusUnauthorized, "auth.invalid_signature", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrMalformedIdentity):
		fail(w, r, http.StatusBadRequest, "auth.malformed_identity", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrNotConfigured):
		// misconfiguration is ours, not the caller's
		fail(w, r, http.StatusServiceUnavailable, "auth.not_configured", "authentication unavailable", nil)
		return

	case errors.Is(err, domain.ErrOrderNotEligible):
		fail(w, r, http.StatusConflict, "order.not_eligible", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrNoEligiblePromoter):
		fail(w, r, http.StatusConflict, "match.no_promoter", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrMatchFailed):
		fail(w, r, http.StatusInternalServerError, "match.failed", "match failed", nil)
		return

	case errors.Is(err, domain.ErrOrderNotFound):
		fail(w, r, http.StatusNotFound, "order.not_found", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrUserNotFound):
		fail(w, r, http.StatusNotFound, "user.not_found", err.Error(), nil)
		return

	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	response.Fail(w, status, code, message, meta, appCtx.TraceIDOr(r.Context()))
}
