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
	"time"

	"github.com/animus-labs/evalcore/internal/platform/requestid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrap_SetsRequestID_WhenMissing(t *testing.T) {
	var seen string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestid.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Wrap(testLogger(), "testsvc", mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))

	got := rec.Header().Get(requestid.Header)
	if got == "" {
		t.Fatalf("expected %s response header", requestid.Header)
	}
	if seen != got {
		t.Fatalf("context id=%q, header id=%q", seen, got)
	}
}

func TestWrap_PreservesRequestID_WhenProvided(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Wrap(testLogger(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set(requestid.Header, "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestid.Header); got != "rid-123" {
		t.Fatalf("%s=%q, want rid-123", requestid.Header, got)
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	h := Wrap(testLogger(), "testsvc", mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q, want application/json", ct)
	}
}

func TestReadyz_OK(t *testing.T) {
	handler := Readyz("testsvc", time.Second,
		ReadinessCheck{Name: "db", Check: func(ctx context.Context) error { return nil }},
		ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ready"`) {
		t.Fatalf("expected ready status in response: %s", rec.Body.String())
	}
}

func TestReadyz_Fail(t *testing.T) {
	handler := Readyz("testsvc", time.Second,
		ReadinessCheck{Name: "db", Check: func(ctx context.Context) error { return nil }},
		ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error { return errors.New("unreachable") }},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"not_ready"`) || !strings.Contains(body, "unreachable") {
		t.Fatalf("unexpected response: %s", body)
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	handler := Readyz("testsvc", 10*time.Millisecond, ReadinessCheck{
		Name: "slow",
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Service: "evalruns", Addr: ":8080"}).Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if err := (Config{Service: "evalruns"}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing addr")
	}
}
