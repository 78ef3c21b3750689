package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func signedRequest(t *testing.T, secret, subject, email, roles string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/tools", nil)
	r.Header.Set("X-Request-Id", "req-1")
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature(secret, ts, r.Method, r.URL.Path, "req-1", subject, email, roles)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	r.Header.Set(HeaderSubject, subject)
	r.Header.Set(HeaderEmail, email)
	r.Header.Set(HeaderRoles, roles)
	r.Header.Set(HeaderInternalAuthTimestamp, ts)
	r.Header.Set(HeaderInternalAuthSignature, sig)
	return r
}

func TestGatewayHeadersAuthenticator(t *testing.T) {
	a, err := NewGatewayHeadersAuthenticator("secret")
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator: %v", err)
	}

	identity, err := a.Authenticate(context.Background(), signedRequest(t, "secret", "user-1", "a@example.com", "editor,viewer"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.Subject != "user-1" || identity.Email != "a@example.com" {
		t.Fatalf("identity=%+v", identity)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "editor" {
		t.Fatalf("Roles=%v", identity.Roles)
	}
}

func TestGatewayHeadersAuthenticator_Rejections(t *testing.T) {
	a, err := NewGatewayHeadersAuthenticator("secret")
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator: %v", err)
	}

	// No headers at all.
	if _, err := a.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/tools", nil)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}

	// Signed with the wrong secret.
	if _, err := a.Authenticate(context.Background(), signedRequest(t, "other", "user-1", "", "viewer")); err == nil {
		t.Fatal("accepted a signature under the wrong secret")
	}

	// Roles tampered after signing.
	r := signedRequest(t, "secret", "user-1", "", "viewer")
	r.Header.Set(HeaderRoles, "admin")
	if _, err := a.Authenticate(context.Background(), r); err == nil {
		t.Fatal("accepted tampered roles")
	}
}
