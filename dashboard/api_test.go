package main

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/platform/auth"
	"github.com/growthkit-labs/growthkit-go/internal/platform/objectstore"
	"github.com/growthkit-labs/growthkit-go/internal/poll"
	"github.com/growthkit-labs/growthkit-go/internal/registry"
	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
	"github.com/growthkit-labs/growthkit-go/internal/submission"
	"github.com/growthkit-labs/growthkit-go/internal/workflow"
)

func testAPI(t *testing.T) (*dashboardAPI, *http.ServeMux) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	reg, err := registry.Load(logger)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	manager := submission.NewManager(logger, workflow.NewDispatcher(logger, 5*time.Second), nil, nil, submission.Config{})
	t.Cleanup(manager.Shutdown)

	api := newDashboardAPI(logger, reg, manager, nil, nil, nil, objectstore.Config{})
	mux := http.NewServeMux()
	api.register(mux)
	return api, mux
}

func asUser(r *http.Request, subject, email string, roles ...string) *http.Request {
	identity := auth.Identity{Subject: subject, Email: email, Roles: roles}
	return r.WithContext(auth.ContextWithIdentity(r.Context(), identity))
}

func TestHandleListTools(t *testing.T) {
	t.Setenv("GROWTHKIT_WEBHOOK_TINYURL", "https://workflows.example.com/webhook/tinyurl")

	_, mux := testAPI(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/tools", nil), "user-1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tools) != 1 || body.Tools[0].Name != "tinyurl" {
		t.Fatalf("tools=%+v, want only the configured tinyurl", body.Tools)
	}
}

func TestHandleSubmit_UnknownTool(t *testing.T) {
	_, mux := testAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tools/doesnotexist/submissions", strings.NewReader("{}"))
	mux.ServeHTTP(rec, asUser(req, "user-1", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestHandleSubmit_TinyURLResolves(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "Congratulations! This is your: https://tinyurl.com/xyz"}`))
	}))
	defer webhook.Close()
	t.Setenv("GROWTHKIT_WEBHOOK_TINYURL", webhook.URL)

	_, mux := testAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tools/tinyurl/submissions", strings.NewReader(`{"url": "https://example.com/a/b/c"}`))
	mux.ServeHTTP(rec, asUser(req, "user-1", "a@example.com", "editor"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d, want 201: %s", rec.Code, rec.Body.String())
	}
	var snap submission.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != poll.StateResolved {
		t.Fatalf("State=%q, want resolved", snap.State)
	}
	if snap.Result == nil || snap.Result.ShortLink != "https://tinyurl.com/xyz" {
		t.Fatalf("Result=%+v", snap.Result)
	}
}

func TestHandleSubmit_InvalidInput(t *testing.T) {
	t.Setenv("GROWTHKIT_WEBHOOK_TINYURL", "https://workflows.example.com/webhook/tinyurl")

	_, mux := testAPI(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tools/tinyurl/submissions", strings.NewReader(`{"url": "notaurl"}`))
	mux.ServeHTTP(rec, asUser(req, "user-1", ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_input" || body["field"] != "url" {
		t.Fatalf("body=%v", body)
	}
}

func TestHandleGetSubmission_OwnerScoped(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "https://tinyurl.com/abc"}`))
	}))
	defer webhook.Close()
	t.Setenv("GROWTHKIT_WEBHOOK_TINYURL", webhook.URL)

	api, mux := testAPI(t)
	owner := auth.Identity{Subject: "user-1"}
	snap, err := api.manager.Submit(
		auth.ContextWithIdentity(context.Background(), owner),
		mustLookup(t, api, "tinyurl"),
		ownerFromIdentity(owner),
		map[string]string{"url": "https://example.com/a"},
		nil,
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tools/tinyurl/submissions/"+snap.ID, nil)
	mux.ServeHTTP(rec, asUser(req, "user-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("owner read status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/tools/tinyurl/submissions/"+snap.ID, nil)
	mux.ServeHTTP(rec, asUser(req, "user-2", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign read status=%d, want 404", rec.Code)
	}
}

// zeroRowConn acknowledges any statement and reports zero rows affected,
// standing in for a store where the predicate matched nothing.
type zeroRowConn struct{}

func (zeroRowConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (zeroRowConn) Close() error                        { return nil }
func (zeroRowConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func (zeroRowConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

type zeroRowConnector struct{}

func (zeroRowConnector) Connect(context.Context) (driver.Conn, error) { return zeroRowConn{}, nil }
func (zeroRowConnector) Driver() driver.Driver                        { return zeroRowDriver{} }

type zeroRowDriver struct{}

func (zeroRowDriver) Open(string) (driver.Conn, error) { return zeroRowConn{}, nil }

func TestHandleHistoryDelete_ForeignRecordNotFound(t *testing.T) {
	t.Setenv("GROWTHKIT_WEBHOOK_LEADSCRAPER", "https://workflows.example.com/webhook/leads")

	logger := slog.New(slog.DiscardHandler)
	reg, err := registry.Load(logger)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	manager := submission.NewManager(logger, workflow.NewDispatcher(logger, 5*time.Second), nil, nil, submission.Config{})
	t.Cleanup(manager.Shutdown)

	db := sql.OpenDB(zeroRowConnector{})
	t.Cleanup(func() { _ = db.Close() })
	store := resultstore.New(logger, db)

	api := newDashboardAPI(logger, reg, manager, store, nil, nil, objectstore.Config{})
	mux := http.NewServeMux()
	api.register(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/tools/leadscraper/history/42", nil)
	mux.ServeHTTP(rec, asUser(req, "user-2", "b@example.com"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "record_not_found" {
		t.Fatalf("body=%v, want record_not_found", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a": "1"}{"b": "2"}`))
	var dst map[string]string
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatal("accepted multiple JSON values")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a": "1"}`))
	dst = nil
	if err := decodeJSON(req, &dst); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if dst["a"] != "1" {
		t.Fatalf("dst=%v", dst)
	}
}

func mustLookup(t *testing.T, api *dashboardAPI, name string) registry.Tool {
	t.Helper()
	tool, ok := api.registry.Lookup(name)
	if !ok {
		t.Fatalf("tool %q not enabled", name)
	}
	return tool
}

func ownerFromIdentity(identity auth.Identity) resultstore.Owner {
	return resultstore.Owner{ID: identity.Subject, Email: identity.Email}
}
