package robokassa

import (
	"fmt"
	"strconv"
	"strings"
)

// WebhookPayload represents RoboKassa ResultURL data. RoboKassa posts
// form parameters, not JSON; the signature travels inside the form.
type WebhookPayload struct {
	OutSum         string
	InvID          int64
	SignatureValue string
	Shp            map[string]string
}

// VerifyResultSignature validates a ResultURL callback signature:
// Hash(OutSum:InvId:Password2[:Shp_params])
func VerifyResultSignature(outSum string, invID int64, signature, password2 string, shp map[string]string, algo HashAlgorithm) bool {
	if password2 == "" || signature == "" {
		return false
	}

	base := BuildResultSignatureBase(outSum, strconv.FormatInt(invID, 10), password2, shp)
	expected, err := Sign(base, algo)
	if err != nil {
		return false
	}
	return VerifySignature(expected, signature)
}

// ParseWebhookForm parses form-encoded webhook data into a structured payload
func ParseWebhookForm(formValues map[string][]string) (*WebhookPayload, error) {
	outSum := firstValue(formValues, "OutSum")
	invIDStr := firstValue(formValues, "InvId")
	signature := firstValue(formValues, "SignatureValue")

	if outSum == "" {
		return nil, fmt.Errorf("OutSum is required")
	}
	if invIDStr == "" {
		return nil, fmt.Errorf("InvId is required")
	}
	if signature == "" {
		return nil, fmt.Errorf("SignatureValue is required")
	}

	invID, err := strconv.ParseInt(invIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid InvId: %w", err)
	}

	// Custom Shp_* parameters keep their original casing; casing is part
	// of the signature base.
	shp := make(map[string]string)
	for key, values := range formValues {
		if !strings.HasPrefix(strings.ToLower(key), "shp_") || len(values) == 0 {
			continue
		}
		shp[key] = values[0]
	}

	return &WebhookPayload{
		OutSum:         outSum,
		InvID:          invID,
		SignatureValue: signature,
		Shp:            shp,
	}, nil
}

// ShpValue looks up a custom parameter regardless of key casing
func (p *WebhookPayload) ShpValue(name string) string {
	want := strings.ToLower(name)
	for k, v := range p.Shp {
		if strings.ToLower(k) == want {
			return v
		}
	}
	return ""
}

func firstValue(values map[string][]string, key string) string {
	if vs, ok := values[key]; ok && len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}
