package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/planforge/planforge-api/internal/pkg/kaspi"
	"github.com/planforge/planforge-api/internal/pkg/robokassa"
)

// EventType is the canonical meaning of a gateway notification.
type EventType string

const (
	EventPaid     EventType = "paid"
	EventRefunded EventType = "refunded"
	EventFailed   EventType = "failed"
)

// Event is a verified, gateway-neutral payment notification. Reference is
// scoped to the gateway; the reconciler prefixes it with the gateway name
// to form the ledger's idempotency key.
type Event struct {
	Type      EventType
	Reference string
	UserID    uuid.UUID
	Credits   int
	Amount    string // decimal string as sent by the gateway
}

// Gateway abstracts one payment provider's webhook contract: authenticate
// the raw delivery and extract the canonical event from its own schema.
// Both implementations feed the same reconciliation path.
type Gateway interface {
	Name() string
	Verify(rawBody []byte, signatureHeader string) (*Event, error)
}

// --- Kaspi ---

// kaspiEvent is Kaspi's webhook JSON schema.
type kaspiEvent struct {
	PaymentID string  `json:"payment_id"`
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	UserID    string  `json:"user_id"`
	Credits   int     `json:"credits"`
}

// KaspiGateway verifies HMAC-SHA256 signed JSON webhooks.
type KaspiGateway struct {
	secretKey string
}

func NewKaspiGateway(secretKey string) *KaspiGateway {
	return &KaspiGateway{secretKey: secretKey}
}

func (g *KaspiGateway) Name() string { return GatewayKaspi }

func (g *KaspiGateway) Verify(rawBody []byte, signatureHeader string) (*Event, error) {
	if !kaspi.VerifySignature(rawBody, signatureHeader, g.secretKey) {
		return nil, ErrInvalidSignature
	}

	var payload kaspiEvent
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrMalformedEvent)
	}

	ev := &Event{
		Reference: payload.OrderID,
		Credits:   payload.Credits,
		Amount:    strconv.FormatFloat(payload.Amount, 'f', 2, 64),
	}

	if payload.UserID != "" {
		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: bad user_id", ErrMalformedEvent)
		}
		ev.UserID = userID
	}

	switch strings.ToLower(payload.Status) {
	case "completed", "success", "paid":
		ev.Type = EventPaid
	case "refunded":
		ev.Type = EventRefunded
	case "failed", "cancelled", "canceled":
		ev.Type = EventFailed
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, payload.Status)
	}
	return ev, nil
}

// --- RoboKassa ---

// RobokassaGateway verifies signed form-encoded ResultURL callbacks. The
// signature travels inside the form, not a header; user id and credits ride
// in Shp_ params, which are covered by the signature.
type RobokassaGateway struct {
	password2 string
	algo      robokassa.HashAlgorithm
}

func NewRobokassaGateway(password2 string, algo robokassa.HashAlgorithm) *RobokassaGateway {
	if algo == "" {
		algo = robokassa.HashSHA256
	}
	return &RobokassaGateway{password2: password2, algo: algo}
}

func (g *RobokassaGateway) Name() string { return GatewayRobokassa }

func (g *RobokassaGateway) Verify(rawBody []byte, _ string) (*Event, error) {
	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	payload, err := robokassa.ParseWebhookForm(form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if !robokassa.VerifyResultSignature(payload.OutSum, payload.InvID, payload.SignatureValue, g.password2, payload.Shp, g.algo) {
		return nil, ErrInvalidSignature
	}

	ev := &Event{
		// ResultURL only fires for successful payments.
		Type:      EventPaid,
		Reference: strconv.FormatInt(payload.InvID, 10),
		Amount:    payload.OutSum,
	}

	if raw := payload.ShpValue("shp_user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad shp_user_id", ErrMalformedEvent)
		}
		ev.UserID = userID
	}
	if raw := payload.ShpValue("shp_credits"); raw != "" {
		credits, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad shp_credits", ErrMalformedEvent)
		}
		ev.Credits = credits
	}
	return ev, nil
}
