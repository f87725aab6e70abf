package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExactOriginWithoutCredentials(t *testing.T) {
	p := Policy{AllowOriginsWithoutCredentials: []string{"https://app.example.com"}}
	h := Wrap(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestGlobOriginWithoutCredentials(t *testing.T) {
	p := Policy{AllowOriginsWithoutCredentials: []string{"https://*.example.com"}}
	h := Wrap(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://tenant-a.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://tenant-a.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCredentialedOriginRejectedWhenNotListed(t *testing.T) {
	p := Policy{AllowOriginsWithCredentials: []string{"https://app.example.com"}}
	h := Wrap(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no Access-Control-Allow-Origin, got %q", got)
	}
}

func TestAlwaysExposedHeaders(t *testing.T) {
	opts := Options(Policy{AllowOriginsWithoutCredentials: []string{"*"}})
	found := map[string]bool{}
	for _, h := range opts.ExposedHeaders {
		found[h] = true
	}
	for _, want := range alwaysExposedHeaders {
		if !found[want] {
			t.Errorf("expected %q in exposed headers, got %v", want, opts.ExposedHeaders)
		}
	}
}
