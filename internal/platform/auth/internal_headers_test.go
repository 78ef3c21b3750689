package auth

import (
	"testing"
	"time"
)

func TestInternalAuthSignature_RoundTrip(t *testing.T) {
	sig, err := ComputeInternalAuthSignature("secret", "1700000000", "GET", "/tools", "req-1", "user-1", "a@example.com", "editor")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature: %v", err)
	}

	err = VerifyInternalAuthSignature("secret", "1700000000", "GET", "/tools", "req-1", "user-1", "a@example.com", "editor", sig)
	if err != nil {
		t.Fatalf("VerifyInternalAuthSignature: %v", err)
	}
}

func TestInternalAuthSignature_TamperDetected(t *testing.T) {
	sig, err := ComputeInternalAuthSignature("secret", "1700000000", "GET", "/tools", "req-1", "user-1", "a@example.com", "viewer")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature: %v", err)
	}

	cases := map[string]func() error{
		"roles escalated": func() error {
			return VerifyInternalAuthSignature("secret", "1700000000", "GET", "/tools", "req-1", "user-1", "a@example.com", "admin", sig)
		},
		"subject swapped": func() error {
			return VerifyInternalAuthSignature("secret", "1700000000", "GET", "/tools", "req-1", "user-2", "a@example.com", "viewer", sig)
		},
		"path changed": func() error {
			return VerifyInternalAuthSignature("secret", "1700000000", "GET", "/tools/leadscraper/history", "req-1", "user-1", "a@example.com", "viewer", sig)
		},
		"wrong secret": func() error {
			return VerifyInternalAuthSignature("other", "1700000000", "GET", "/tools", "req-1", "user-1", "a@example.com", "viewer", sig)
		},
	}
	for name, verify := range cases {
		if verify() == nil {
			t.Fatalf("%s: verification passed", name)
		}
	}
}

func TestVerifyInternalAuthTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	if err := VerifyInternalAuthTimestamp("1700000000", now, 5*time.Minute); err != nil {
		t.Fatalf("fresh timestamp rejected: %v", err)
	}
	if err := VerifyInternalAuthTimestamp("1699990000", now, 5*time.Minute); err == nil {
		t.Fatal("stale timestamp accepted")
	}
	if err := VerifyInternalAuthTimestamp("not-a-number", now, 5*time.Minute); err == nil {
		t.Fatal("malformed timestamp accepted")
	}
}
