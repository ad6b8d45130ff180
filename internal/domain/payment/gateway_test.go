package payment

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/planforge/planforge-api/internal/pkg/kaspi"
	"github.com/planforge/planforge-api/internal/pkg/robokassa"
)

/* =========================
   Kaspi
   ========================= */

const kaspiSecret = "test-secret"

func signedKaspiBody(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	raw := []byte(body)
	return raw, kaspi.GenerateSignature(raw, kaspiSecret)
}

func TestKaspiGatewayVerifyPaid(t *testing.T) {
	gw := NewKaspiGateway(kaspiSecret)
	userID := uuid.New()

	body, sig := signedKaspiBody(t, fmt.Sprintf(
		`{"payment_id":"pay_1","order_id":"ord_1","status":"completed","amount":4990.00,"user_id":"%s","credits":50}`,
		userID,
	))

	ev, err := gw.Verify(body, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != EventPaid {
		t.Fatalf("expected paid event, got %s", ev.Type)
	}
	if ev.Reference != "ord_1" {
		t.Fatalf("unexpected reference: %s", ev.Reference)
	}
	if ev.UserID != userID || ev.Credits != 50 {
		t.Fatalf("user/credits not extracted: %+v", ev)
	}
	if ev.Amount != "4990.00" {
		t.Fatalf("unexpected amount: %s", ev.Amount)
	}
}

func TestKaspiGatewayStatusMapping(t *testing.T) {
	gw := NewKaspiGateway(kaspiSecret)

	cases := []struct {
		status string
		want   EventType
	}{
		{"completed", EventPaid},
		{"success", EventPaid},
		{"refunded", EventRefunded},
		{"failed", EventFailed},
		{"cancelled", EventFailed},
	}

	for _, tc := range cases {
		body, sig := signedKaspiBody(t, fmt.Sprintf(`{"order_id":"ord_2","status":"%s","amount":10}`, tc.status))
		ev, err := gw.Verify(body, sig)
		if err != nil {
			t.Fatalf("status %s: unexpected error: %v", tc.status, err)
		}
		if ev.Type != tc.want {
			t.Fatalf("status %s: expected %s, got %s", tc.status, tc.want, ev.Type)
		}
	}
}

func TestKaspiGatewayRejectsBadSignature(t *testing.T) {
	gw := NewKaspiGateway(kaspiSecret)

	body, sig := signedKaspiBody(t, `{"order_id":"ord_3","status":"completed","amount":10}`)

	// Tampered body no longer matches the signature.
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] = '9'

	if _, err := gw.Verify(tampered, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := gw.Verify(body, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing header, got %v", err)
	}
}

func TestKaspiGatewayRejectsMalformed(t *testing.T) {
	gw := NewKaspiGateway(kaspiSecret)

	for _, body := range []string{
		`not json`,
		`{"status":"completed","amount":10}`,
		`{"order_id":"ord_4","status":"mystery","amount":10}`,
		`{"order_id":"ord_5","status":"completed","amount":10,"user_id":"not-a-uuid"}`,
	} {
		raw, sig := signedKaspiBody(t, body)
		if _, err := gw.Verify(raw, sig); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("body %q: expected ErrMalformedEvent, got %v", body, err)
		}
	}
}

/* =========================
   RoboKassa
   ========================= */

const robokassaPassword2 = "password2"

func signedRobokassaForm(t *testing.T, outSum string, invID int64, shp map[string]string) []byte {
	t.Helper()

	base := robokassa.BuildResultSignatureBase(outSum, strconv.FormatInt(invID, 10), robokassaPassword2, shp)
	sig, err := robokassa.Sign(base, robokassa.HashSHA256)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	form := url.Values{}
	form.Set("OutSum", outSum)
	form.Set("InvId", strconv.FormatInt(invID, 10))
	form.Set("SignatureValue", sig)
	for k, v := range shp {
		form.Set(k, v)
	}
	return []byte(form.Encode())
}

func TestRobokassaGatewayVerify(t *testing.T) {
	gw := NewRobokassaGateway(robokassaPassword2, robokassa.HashSHA256)
	userID := uuid.New()

	body := signedRobokassaForm(t, "4990.00", 1042, map[string]string{
		"Shp_user_id": userID.String(),
		"Shp_credits": "50",
	})

	ev, err := gw.Verify(body, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != EventPaid {
		t.Fatalf("expected paid event, got %s", ev.Type)
	}
	if ev.Reference != "1042" {
		t.Fatalf("unexpected reference: %s", ev.Reference)
	}
	if ev.UserID != userID || ev.Credits != 50 {
		t.Fatalf("shp params not extracted: %+v", ev)
	}
	if ev.Amount != "4990.00" {
		t.Fatalf("unexpected amount: %s", ev.Amount)
	}
}

func TestRobokassaGatewayRejectsBadSignature(t *testing.T) {
	gw := NewRobokassaGateway(robokassaPassword2, robokassa.HashSHA256)

	body := signedRobokassaForm(t, "100.00", 7, nil)

	// Changing OutSum invalidates the signature.
	form, _ := url.ParseQuery(string(body))
	form.Set("OutSum", "1.00")
	if _, err := gw.Verify([]byte(form.Encode()), ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// Wrong password on our side.
	other := NewRobokassaGateway("different", robokassa.HashSHA256)
	if _, err := other.Verify(body, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRobokassaGatewayRejectsMalformed(t *testing.T) {
	gw := NewRobokassaGateway(robokassaPassword2, robokassa.HashSHA256)

	for _, body := range []string{
		"OutSum=100.00",                                  // no InvId, no signature
		"OutSum=100.00&InvId=abc&SignatureValue=deadbeef", // bad InvId
	} {
		if _, err := gw.Verify([]byte(body), ""); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("body %q: expected ErrMalformedEvent, got %v", body, err)
		}
	}
}
