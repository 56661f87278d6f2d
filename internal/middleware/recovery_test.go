package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func panicHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
}

func TestRecoveryMiddleware_HTMLRoute(t *testing.T) {
	w := httptest.NewRecorder()
	NewRecoveryMiddleware()(panicHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/legal", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRecoveryMiddleware_APIRoute(t *testing.T) {
	w := httptest.NewRecorder()
	NewRecoveryMiddleware()(panicHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/legal", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("body should be JSON: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	NewSecurityHeadersMiddleware()(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/legal", nil))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Content-Security-Policy"} {
		if w.Header().Get(h) == "" {
			t.Errorf("%s should be set", h)
		}
	}
	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "script-src 'none'") {
		t.Errorf("CSP = %q, should forbid scripts", w.Header().Get("Content-Security-Policy"))
	}
}
