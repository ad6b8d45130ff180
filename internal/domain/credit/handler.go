package credit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/planforge/planforge-api/internal/middleware"
	"github.com/planforge/planforge-api/internal/pkg/response"
)

// Handler exposes read-only credit endpoints to authenticated users.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetBalance handles GET /credits/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			response.ServiceUnavailable(w, "balance temporarily unavailable")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]int{"balance": balance})
}

// GetHistory handles GET /credits/transactions
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
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

	txns, err := h.service.GetTransactionHistory(r.Context(), userID, limit, offset)
	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			response.ServiceUnavailable(w, "ledger temporarily unavailable")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, txns)
}

// Routes returns the credit router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/balance", h.GetBalance)
		r.Get("/transactions", h.GetHistory)
	})
	return r
}
