package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func healthHandler(p Pinger) http.Handler {
	srv := NewServer(
		NewDocumentHandler(&fakeUploader{}, &fakeQueue{}, 1<<20, "", nil),
		NewQueryHandler(&fakeProcessor{}, nil),
		NewHealthHandler(p, nil),
		nil,
	)
	return srv.Handler()
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	rec := get(healthHandler(&fakePinger{}), "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body)
	}
}

func TestReadiness(t *testing.T) {
	rec := get(healthHandler(&fakePinger{}), "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadinessDatabaseDown(t *testing.T) {
	rec := get(healthHandler(&fakePinger{err: errors.New("dial timeout")}), "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReadinessNoDatabase(t *testing.T) {
	rec := get(healthHandler(nil), "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
