package robokassa

import (
	"net/url"
	"strings"
	"testing"
)

func TestBuildStartSignatureBase(t *testing.T) {
	base := BuildStartSignatureBase("shop", "100.00", "42", "pass1", nil)
	if base != "shop:100.00:42:pass1" {
		t.Fatalf("unexpected base: %s", base)
	}
}

func TestBuildResultSignatureBaseWithShp(t *testing.T) {
	shp := map[string]string{
		"Shp_user_id": "u-1",
		"Shp_credits": "50",
	}

	base := BuildResultSignatureBase("100.00", "42", "pass2", shp)

	// Shp params are appended sorted by lowercased key.
	want := "100.00:42:pass2:Shp_credits=50:Shp_user_id=u-1"
	if base != want {
		t.Fatalf("expected %q, got %q", want, base)
	}
}

func TestSignatureBaseIgnoresNonShpKeys(t *testing.T) {
	shp := map[string]string{
		"Shp_a":     "1",
		"NotCustom": "x",
	}

	base := BuildResultSignatureBase("1.00", "1", "p", shp)
	if strings.Contains(base, "NotCustom") {
		t.Fatalf("non-Shp key leaked into base: %s", base)
	}
}

func TestSignRoundTrip(t *testing.T) {
	for _, algo := range []HashAlgorithm{HashMD5, HashSHA256} {
		sig, err := Sign("some:base:string", algo)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", algo, err)
		}
		if !VerifySignature(sig, strings.ToUpper(sig)) {
			t.Fatalf("%s: verification should be case-insensitive", algo)
		}
		if VerifySignature(sig, "deadbeef") {
			t.Fatalf("%s: wrong signature accepted", algo)
		}
	}

	if _, err := Sign("x", HashAlgorithm("SHA1")); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestNormalizeHashAlgorithm(t *testing.T) {
	algo, err := NormalizeHashAlgorithm(" md5 ")
	if err != nil || algo != HashMD5 {
		t.Fatalf("expected MD5, got %v (%v)", algo, err)
	}
	if _, err := NormalizeHashAlgorithm("whirlpool"); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestVerifyResultSignature(t *testing.T) {
	shp := map[string]string{"Shp_credits": "10"}
	base := BuildResultSignatureBase("250.50", "99", "secret", shp)
	sig, err := Sign(base, HashSHA256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !VerifyResultSignature("250.50", 99, sig, "secret", shp, HashSHA256) {
		t.Fatal("valid signature rejected")
	}
	if VerifyResultSignature("250.51", 99, sig, "secret", shp, HashSHA256) {
		t.Fatal("signature accepted for altered amount")
	}
	if VerifyResultSignature("250.50", 99, sig, "other", shp, HashSHA256) {
		t.Fatal("signature accepted with wrong password")
	}
	if VerifyResultSignature("250.50", 99, "", "secret", shp, HashSHA256) {
		t.Fatal("empty signature accepted")
	}
}

func TestParseWebhookForm(t *testing.T) {
	form := url.Values{}
	form.Set("OutSum", "100.00")
	form.Set("InvId", "42")
	form.Set("SignatureValue", "abc")
	form.Set("Shp_user_id", "u-1")

	payload, err := ParseWebhookForm(form)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.OutSum != "100.00" || payload.InvID != 42 || payload.SignatureValue != "abc" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.ShpValue("shp_user_id") != "u-1" {
		t.Fatal("ShpValue lookup should ignore casing")
	}

	form.Del("InvId")
	if _, err := ParseWebhookForm(form); err == nil {
		t.Fatal("expected error for missing InvId")
	}
}

func TestPaymentLink(t *testing.T) {
	cfg := Config{
		MerchantLogin: "shop",
		Password1:     "pass1",
		HashAlgo:      HashSHA256,
		TestMode:      true,
	}

	link, err := PaymentLink(cfg, "100.00", 42, "50 credits", map[string]string{"user_id": "u-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("link is not a valid URL: %v", err)
	}
	q := u.Query()
	if q.Get("MerchantLogin") != "shop" || q.Get("OutSum") != "100.00" || q.Get("InvId") != "42" {
		t.Fatalf("missing base params: %s", link)
	}
	if q.Get("Shp_user_id") != "u-1" {
		t.Fatal("custom param should be prefixed with Shp_")
	}
	if q.Get("IsTest") != "1" {
		t.Fatal("test mode flag missing")
	}

	// The link signature must validate against the start base string.
	base := BuildStartSignatureBase("shop", "100.00", "42", "pass1", map[string]string{"Shp_user_id": "u-1"})
	expected, err := Sign(base, HashSHA256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !VerifySignature(expected, q.Get("SignatureValue")) {
		t.Fatal("link signature does not verify")
	}
}

func TestAmounts(t *testing.T) {
	a, err := ParseAmount("100.10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := ParseAmount("100.100000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !AmountsEqual(a, b) {
		t.Fatal("equal amounts with different scale should match")
	}

	c, _ := ParseAmount("100.11")
	if AmountsEqual(a, c) {
		t.Fatal("different amounts should not match")
	}

	if _, err := ParseAmount("abc"); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
}
