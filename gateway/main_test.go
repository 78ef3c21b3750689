package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/no/such/path", nil)
	req.Header.Set("X-Request-Id", "req-1")

	notFound(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "not_found" {
		t.Fatalf("body=%v, want not_found", body)
	}
	if body["request_id"] != "req-1" {
		t.Fatalf("request_id=%v, want req-1", body["request_id"])
	}
}

func TestNewReverseProxy_RejectsInvalidUpstream(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	for _, target := range []string{"", "not a url", "localhost:8081"} {
		if _, err := newReverseProxy(logger, "secret", target); err == nil {
			t.Fatalf("newReverseProxy(%q) accepted an invalid upstream", target)
		}
	}
	if _, err := newReverseProxy(logger, "secret", "http://localhost:8081"); err != nil {
		t.Fatalf("newReverseProxy: %v", err)
	}
}
