package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrap_AssignsRequestID(t *testing.T) {
	handler := Wrap(discardLogger(), "governance", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("request id missing on inner request")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id missing on response")
	}
}

func TestWrap_PreservesCallerRequestID(t *testing.T) {
	handler := Wrap(discardLogger(), "governance", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Fatalf("request id %q, want caller-id", got)
	}
}

func TestWrap_RecoversPanics(t *testing.T) {
	handler := Wrap(discardLogger(), "governance", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("body=%q, want internal_server_error", rec.Body.String())
	}
}

func TestReadyzWithChecks(t *testing.T) {
	ready := ReadyzWithChecks("governance",
		ReadinessCheck{Name: "db", Check: func(ctx context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	notReady := ReadyzWithChecks("governance",
		ReadinessCheck{Name: "db", Check: func(ctx context.Context) error { return errors.New("down") }},
	)
	rec = httptest.NewRecorder()
	notReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not_ready") {
		t.Fatalf("body=%q, want not_ready", rec.Body.String())
	}
}
