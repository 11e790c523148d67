package api

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

func gzipBody(t *testing.T, payload string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(payload)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func TestGzipRequestMiddlewareDecompressesIntent(t *testing.T) {
	env := newTestEnv(t)
	env.e.Use(GzipRequestMiddleware())

	body := gzipBody(t, `{"type":"addTask","task":{"title":"Compressed"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/intents", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp intentResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatalf("expected created task id, got %#v", resp)
	}
	if len(env.store.inserted) != 1 || env.store.inserted[0].Title != "Compressed" {
		t.Fatalf("unexpected stored draft: %#v", env.store.inserted)
	}
}

func TestGzipRequestMiddlewareRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	env.e.Use(GzipRequestMiddleware())

	req := httptest.NewRequest(http.MethodPost, "/api/intents", bytes.NewBufferString("not gzip"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}
