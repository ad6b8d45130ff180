package kaspi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature validates the HMAC-SHA256 signature Kaspi sends in the
// X-Signature header, computed over the raw request body.
func VerifySignature(payload []byte, signature string, secretKey string) bool {
	if secretKey == "" || signature == "" {
		return false
	}

	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	expected := h.Sum(nil)

	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return hmac.Equal(given, expected)
}

// GenerateSignature creates an HMAC-SHA256 signature; used in tests
func GenerateSignature(payload []byte, secretKey string) string {
	if secretKey == "" {
		return ""
	}

	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
