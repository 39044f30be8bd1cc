package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/amaumene/plakt/internal/cache"
	"github.com/amaumene/plakt/internal/controllers"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "test-cache.db"), time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler(testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("unexpected body: %v", body)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestStatusHandlerIdle(t *testing.T) {
	logger := testLogger()
	c := testCache(t)
	runner := controllers.NewRunner(nil, logger)

	handler := NewStatusHandler(runner, c, logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "idle" {
		t.Errorf("expected idle status, got %q", body.Status)
	}
	if body.LastRun != nil {
		t.Errorf("expected no last run yet, got %v", body.LastRun)
	}
	if body.Cache == nil {
		t.Fatal("expected cache stats in response")
	}
}

func TestStatusHandlerCacheCounts(t *testing.T) {
	logger := testLogger()
	c := testCache(t)
	if err := c.SetTraktID("imdb", "tt0111161", "movie", 1, nil); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	handler := NewStatusHandler(controllers.NewRunner(nil, logger), c, logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Cache.IDMappings != 1 {
		t.Errorf("expected 1 id mapping in stats, got %d", body.Cache.IDMappings)
	}
}

func TestSyncHandlerRejectsGet(t *testing.T) {
	handler := NewSyncHandler(controllers.NewRunner(nil, testLogger()), testLogger())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
