package endpoint

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRedirectRenderer_Redirects(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	r := RedirectRenderer{URL: "/new", Status: http.StatusMovedPermanently}
	if err := r.Render(rec, req); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	resp := rec.Result()
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("expected status %d, got %d", http.StatusMovedPermanently, resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/new" {
		t.Fatalf("expected Location %q, got %q", "/new", got)
	}
}

func TestRedirectRenderer_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	r := RedirectRenderer{URL: "/found"}
	if err := r.Render(rec, req); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	resp := rec.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected status %d, got %d", http.StatusFound, resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/found" {
		t.Fatalf("expected Location %q, got %q", "/found", got)
	}
}

func TestJSONRenderer_DoesNotEscapeHTML(t *testing.T) {
	rec := httptest.NewRecorder()
	r := JSONRenderer{Status: http.StatusAccepted, Value: map[string]string{"authUrl": "https://a/authorize?x=1&y=2"}}
	if err := r.Render(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"authUrl\":\"https://a/authorize?x=1&y=2\"}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}
