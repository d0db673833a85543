package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func runHeaders(t *testing.T, p *APIHeaders) http.Header {
	t.Helper()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	called := false
	err := p.Process(rec, r, func(w http.ResponseWriter, r *http.Request) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !called {
		t.Fatal("next not called")
	}
	return rec.Header()
}

func TestAPIHeaders_Defaults(t *testing.T) {
	h := runHeaders(t, NewAPIHeaders(false))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s: got %q want %q", k, got, v)
		}
	}
	if got := h.Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS sent without TLS: %q", got)
	}
}

func TestAPIHeaders_HSTS(t *testing.T) {
	h := runHeaders(t, NewAPIHeaders(true))
	if got := h.Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("HSTS: %q", got)
	}
}

func TestAPIHeaders_EmptyFieldsOmitted(t *testing.T) {
	h := runHeaders(t, &APIHeaders{})
	for _, k := range []string{"Referrer-Policy", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if got := h.Get(k); got != "" {
			t.Errorf("%s set on empty policy: %q", k, got)
		}
	}
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("nosniff is always sent")
	}
}
