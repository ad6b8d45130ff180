package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/planforge/planforge-api/internal/domain/credit"
	"github.com/planforge/planforge-api/internal/middleware"
	"github.com/planforge/planforge-api/internal/pkg/response"
	"github.com/planforge/planforge-api/internal/pkg/validator"
)

// Handler exposes the admin credit operations: manual adjustments, the
// audit trail and an on-demand expiration sweep.
type Handler struct {
	creditSvc credit.Service
	audit     *AuditRepository
}

func NewHandler(creditSvc credit.Service, audit *AuditRepository) *Handler {
	return &Handler{creditSvc: creditSvc, audit: audit}
}

type adjustRequest struct {
	Amount int    `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,min=3,max=255"`
}

// AdjustCredits handles POST /admin/users/{id}/credits/adjust
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetUserID(r.Context())

	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	txn, err := h.creditSvc.Adjust(r.Context(), actorID, targetID, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, credit.ErrInvalidAmount):
			response.BadRequest(w, "invalid adjustment")
		case errors.Is(err, credit.ErrInsufficientBalance), errors.Is(err, credit.ErrBalanceOutOfRange):
			response.Conflict(w, "adjustment would push balance out of range")
		case errors.Is(err, credit.ErrStorageUnavailable):
			response.ServiceUnavailable(w, "try again later")
		default:
			log.Error().Err(err).Str("target_user_id", targetID.String()).Msg("credit adjustment failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, txn)
}

// ListAudit handles GET /admin/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	filter := AuditFilter{Limit: 50}

	q := r.URL.Query()
	if raw := q.Get("actor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "invalid actor_id")
			return
		}
		filter.ActorID = &id
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(w, "invalid user_id")
			return
		}
		filter.TargetUserID = &id
	}
	if raw := q.Get("action"); raw != "" {
		filter.Action = &raw
	}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			filter.Limit = v
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			filter.Offset = v
		}
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, entries)
}

// RunExpiry handles POST /admin/credits/expire; the same sweep runs on a
// timer, this endpoint exists for support tooling.
func (h *Handler) RunExpiry(w http.ResponseWriter, r *http.Request) {
	expired, err := h.creditSvc.ExpireStalePacks(r.Context(), time.Now().UTC())
	if err != nil {
		if errors.Is(err, credit.ErrStorageUnavailable) {
			response.ServiceUnavailable(w, "try again later")
			return
		}
		log.Error().Err(err).Msg("expiry sweep failed")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]int{"expired_packs": expired})
}

// Routes returns the admin router; every route requires the admin role
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequireAdmin())
		r.Post("/users/{id}/credits/adjust", h.AdjustCredits)
		r.Get("/audit", h.ListAudit)
		r.Post("/credits/expire", h.RunExpiry)
	})
	return r
}
