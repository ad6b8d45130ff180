package robokassa

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const defaultBaseURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

// Config holds RoboKassa merchant configuration
type Config struct {
	MerchantLogin string
	Password1     string // signs outgoing payment links
	Password2     string // verifies ResultURL callbacks
	HashAlgo      HashAlgorithm
	TestMode      bool
	BaseURL       string
}

// PaymentLink builds the signed redirect URL for the payment form.
// RoboKassa has no create-payment API call; the signed GET is the whole
// initiation protocol.
func PaymentLink(cfg Config, outSum string, invID int64, description string, shp map[string]string) (string, error) {
	if strings.TrimSpace(cfg.MerchantLogin) == "" {
		return "", fmt.Errorf("robokassa config error: merchant_login is empty")
	}
	if strings.TrimSpace(cfg.Password1) == "" {
		return "", fmt.Errorf("robokassa config error: password1 is empty")
	}

	algo := cfg.HashAlgo
	if algo == "" {
		algo = HashSHA256
	}

	// Shp keys must carry the Shp_ prefix both in the signature base and
	// in the query string.
	prefixed := make(map[string]string, len(shp))
	for k, v := range shp {
		key := k
		if !strings.HasPrefix(strings.ToLower(k), "shp_") {
			key = "Shp_" + k
		}
		prefixed[key] = v
	}

	invIDStr := strconv.FormatInt(invID, 10)
	base := BuildStartSignatureBase(cfg.MerchantLogin, outSum, invIDStr, cfg.Password1, prefixed)
	signature, err := Sign(base, algo)
	if err != nil {
		return "", fmt.Errorf("robokassa: failed to sign payment request: %w", err)
	}

	params := url.Values{}
	params.Set("MerchantLogin", cfg.MerchantLogin)
	params.Set("OutSum", outSum)
	params.Set("InvId", invIDStr)
	if description != "" {
		params.Set("Description", description)
	}
	params.Set("SignatureValue", signature)
	for k, v := range prefixed {
		params.Set(k, v)
	}
	if cfg.TestMode {
		params.Set("IsTest", "1")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return strings.TrimRight(baseURL, "?") + "?" + params.Encode(), nil
}
