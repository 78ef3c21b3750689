package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatch_JSONPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type=%q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "Workflow was started"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(testLogger(), 5*time.Second)
	before := time.Now().UTC()
	receipt, err := d.Dispatch(context.Background(), srv.URL, EncodingJSON, Submission{
		Fields: []Field{
			{Name: "url", Value: "https://example.com/a/b/c"},
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if got["url"] != "https://example.com/a/b/c" {
		t.Fatalf("payload url=%q, want the submitted value", got["url"])
	}
	if _, err := time.Parse(time.RFC3339, got["timestamp"]); err != nil {
		t.Fatalf("payload timestamp %q is not RFC3339: %v", got["timestamp"], err)
	}
	if receipt.DispatchedAt.Before(before.Truncate(time.Second)) {
		t.Fatalf("DispatchedAt=%v predates the dispatch call", receipt.DispatchedAt)
	}
	if receipt.Ack.Message != "Workflow was started" {
		t.Fatalf("Ack.Message=%q", receipt.Ack.Message)
	}
}

func TestDispatch_MultipartPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("search_query"); got != "Dentist" {
			t.Errorf("search_query=%q, want Dentist", got)
		}
		if got := r.FormValue("timestamp"); got == "" {
			t.Errorf("timestamp field missing")
		}
		file, header, err := r.FormFile("video")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		if header.Filename != "clip.mp4" {
			t.Errorf("filename=%q, want clip.mp4", header.Filename)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(testLogger(), 5*time.Second)
	_, err := d.Dispatch(context.Background(), srv.URL, EncodingMultipart, Submission{
		Fields: []Field{{Name: "search_query", Value: "Dentist"}},
		File: &FileField{
			Name:        "video",
			Filename:    "clip.mp4",
			ContentType: "video/mp4",
			Size:        4,
			Content:     strings.NewReader("data"),
		},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestDispatch_NonSuccessStatusIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message": "workflow offline"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(testLogger(), 5*time.Second)
	_, err := d.Dispatch(context.Background(), srv.URL, EncodingJSON, Submission{})
	if err == nil {
		t.Fatal("Dispatch succeeded, want DispatchError")
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error type %T, want *DispatchError", err)
	}
	if dispatchErr.Status != http.StatusBadGateway {
		t.Fatalf("Status=%d, want 502", dispatchErr.Status)
	}
	if !strings.Contains(dispatchErr.Reason, "workflow offline") {
		t.Fatalf("Reason=%q, want the ack message included", dispatchErr.Reason)
	}
}

func TestDispatch_FileRequiresMultipart(t *testing.T) {
	d := NewDispatcher(testLogger(), time.Second)
	_, err := d.Dispatch(context.Background(), "http://localhost:0", EncodingJSON, Submission{
		File: &FileField{Name: "video"},
	})
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("error=%v, want *DispatchError", err)
	}
}
