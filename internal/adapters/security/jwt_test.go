package security

import (
	"testing"
	"time"
)

func TestHMACVerifierRoundTrip(t *testing.T) {
	t.Parallel()
	v, err := NewHMACVerifier("test-secret", "tachesure-auth")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	raw, err := v.Sign(Claims{Subject: "user-1", Role: "client"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "client" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestHMACVerifierRejectsBadTokens(t *testing.T) {
	t.Parallel()
	v, _ := NewHMACVerifier("test-secret", "tachesure-auth")
	other, _ := NewHMACVerifier("other-secret", "tachesure-auth")
	wrongIssuer, _ := NewHMACVerifier("test-secret", "someone-else")

	foreign, _ := other.Sign(Claims{Subject: "user-1"}, time.Minute)
	expired, _ := v.Sign(Claims{Subject: "user-1"}, -time.Hour)
	misissued, _ := wrongIssuer.Sign(Claims{Subject: "user-1"}, time.Minute)
	anonymous, _ := v.Sign(Claims{}, time.Minute)

	for name, raw := range map[string]string{
		"foreign key":  foreign,
		"expired":      expired,
		"wrong issuer": misissued,
		"no subject":   anonymous,
		"garbage":      "not.a.token",
	} {
		if _, err := v.Verify(raw); err == nil {
			t.Fatalf("%s: expected verification failure", name)
		}
	}
	if _, err := NewHMACVerifier(" ", ""); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}
