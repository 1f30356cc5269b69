package token

import (
	"strings"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	svc := Service{Secret: "s3cret", Now: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }}
	tok, err := svc.Mint("req-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	id, err := svc.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != "req-123" {
		t.Fatalf("want req-123, got %s", id)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc := Service{Secret: "s3cret"}
	tok, err := svc.Mint("req-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %s", tok)
	}
	tampered := parts[0] + "." + parts[1] + "." + parts[2][:len(parts[2])-2] + "xx"
	if _, err := svc.Verify(tampered); err == nil {
		t.Fatal("tampered signature must not verify")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, err := Service{Secret: "one"}.Mint("req-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := (Service{Secret: "two"}).Verify(tok); err == nil {
		t.Fatal("token signed with another secret must not verify")
	}
}

func TestMintRequiresSecretAndSubject(t *testing.T) {
	if _, err := (Service{}).Mint("req-123"); err == nil {
		t.Fatal("mint without a secret must fail")
	}
	if _, err := (Service{Secret: "s"}).Mint(""); err == nil {
		t.Fatal("mint without a request id must fail")
	}
}

func TestOldTokensStayVerifiable(t *testing.T) {
	past := Service{Secret: "s3cret", Now: func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }}
	tok, err := past.Mint("req-123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	// Liveness is decided against the store, not the clock.
	if _, err := (Service{Secret: "s3cret"}).Verify(tok); err != nil {
		t.Fatalf("old token must still verify: %v", err)
	}
}
