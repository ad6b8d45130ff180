package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/planforge/planforge-api/internal/domain/credit"
	"github.com/planforge/planforge-api/internal/middleware"
	"github.com/planforge/planforge-api/internal/pkg/response"
	"github.com/planforge/planforge-api/internal/pkg/validator"
)

// Handler exposes checkout initiation, payment history and the gateway
// webhook endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type initPaymentRequest struct {
	Credits     int    `json:"credits" validate:"required,min=1"`
	Amount      string `json:"amount" validate:"required,money"`
	Description string `json:"description" validate:"max=255"`
}

// InitKaspi handles POST /payments/kaspi/init
func (h *Handler) InitKaspi(w http.ResponseWriter, r *http.Request) {
	h.initPayment(w, r, GatewayKaspi)
}

// InitRobokassa handles POST /payments/robokassa/init
func (h *Handler) InitRobokassa(w http.ResponseWriter, r *http.Request) {
	h.initPayment(w, r, GatewayRobokassa)
}

func (h *Handler) initPayment(w http.ResponseWriter, r *http.Request, gateway string) {
	userID := middleware.GetUserID(r.Context())

	var req initPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	in := InitPaymentRequest{
		UserID:      userID,
		Credits:     req.Credits,
		Amount:      req.Amount,
		Description: req.Description,
	}

	var (
		out *InitPaymentResponse
		err error
	)
	switch gateway {
	case GatewayKaspi:
		out, err = h.service.InitKaspiPayment(r.Context(), in)
	case GatewayRobokassa:
		out, err = h.service.InitRobokassaPayment(r.Context(), in)
	}
	if err != nil {
		log.Error().Err(err).Str("gateway", gateway).Msg("payment init failed")
		response.Error(w, http.StatusBadGateway, "GATEWAY_ERROR", "failed to initiate payment")
		return
	}

	response.Created(w, out)
}

// GetHistory handles GET /payments
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

	payments, err := h.service.GetPaymentHistory(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, payments)
}

// KaspiWebhook handles POST /webhooks/kaspi. Signed JSON arrives in the
// body, the signature in the X-Signature header.
func (h *Handler) KaspiWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}

	_, err = h.service.HandleWebhook(r.Context(), GatewayKaspi, rawBody, r.Header.Get("X-Signature"))
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	response.OK(w, map[string]string{"status": "accepted"})
}

// RobokassaResult handles the ResultURL callback. RoboKassa sends a form
// encoded POST (or GET with the same params) and expects the literal
// "OK<InvId>" body back, anything else is treated as a failure and retried.
func (h *Handler) RobokassaResult(w http.ResponseWriter, r *http.Request) {
	var rawBody []byte
	if r.Method == http.MethodGet {
		rawBody = []byte(r.URL.RawQuery)
	} else {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rawBody = b
	}

	ev, err := h.service.HandleWebhook(r.Context(), GatewayRobokassa, rawBody, "")
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "OK%s", ev.Reference)
}

// writeWebhookError maps reconciliation failures onto statuses the gateways
// understand: 4xx is terminal, 5xx means deliver again later.
func writeWebhookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		response.Error(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed")
	case errors.Is(err, ErrMalformedEvent):
		response.BadRequest(w, "malformed event")
	case errors.Is(err, ErrAmountMismatch):
		response.Error(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "amount does not match payment")
	case errors.Is(err, ErrUnsupportedGateway):
		response.NotFound(w, "unknown gateway")
	case errors.Is(err, credit.ErrConflict):
		response.Conflict(w, "reference already granted with a different payload")
	case errors.Is(err, credit.ErrStorageUnavailable):
		response.ServiceUnavailable(w, "try again later")
	default:
		log.Error().Err(err).Msg("webhook processing failed")
		response.InternalError(w)
	}
}

// Routes returns the authenticated payment router
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/kaspi/init", h.InitKaspi)
		r.Post("/robokassa/init", h.InitRobokassa)
		r.Get("/", h.GetHistory)
	})
	return r
}

// WebhookRoutes returns the unauthenticated webhook router; the gateways
// authenticate with signatures, not tokens.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/kaspi", h.KaspiWebhook)
	r.Post("/robokassa/result", h.RobokassaResult)
	r.Get("/robokassa/result", h.RobokassaResult)
	return r
}
