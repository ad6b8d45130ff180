package plan

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/planforge/planforge-api/internal/domain/credit"
	"github.com/planforge/planforge-api/internal/middleware"
	"github.com/planforge/planforge-api/internal/pkg/response"
	"github.com/planforge/planforge-api/internal/pkg/validator"
)

// Handler exposes plan generation and retrieval.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type generateRequest struct {
	Title      string          `json:"title" validate:"required,min=1,max=200"`
	Parameters json.RawMessage `json:"parameters"`
}

// Generate handles POST /plans
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	p, err := h.service.Generate(r.Context(), userID, req.Title, req.Parameters)
	if err != nil {
		switch {
		case errors.Is(err, credit.ErrInsufficientBalance):
			response.PaymentRequired(w, "not enough credits")
		case errors.Is(err, credit.ErrStorageUnavailable):
			response.ServiceUnavailable(w, "try again later")
		default:
			log.Error().Err(err).Msg("plan generation failed")
			response.InternalError(w)
		}
		return
	}

	response.Created(w, p)
}

// GetPlan handles GET /plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	planID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid plan id")
		return
	}

	p, err := h.service.GetPlan(r.Context(), userID, planID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			response.NotFound(w, "plan not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, p)
}

// ListPlans handles GET /plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	plans, err := h.service.ListPlans(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, plans)
}

// Routes returns the plan router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Generate)
		r.Get("/", h.ListPlans)
		r.Get("/{id}", h.GetPlan)
	})
	return r
}
