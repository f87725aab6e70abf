package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/relaycore/rplane/ids"
)

func TestDirectSetsGatewayCallerAndSpan(t *testing.T) {
	ids.GenerateConstantValsForTests = true
	defer func() { ids.GenerateConstantValsForTests = false }()

	d := &Director{GatewayName: "api-gateway"}
	req := httptest.NewRequest(http.MethodGet, "https://in.example.com/v1/users/1?x=1", nil)
	target, _ := url.Parse("http://users-svc.internal:8080/base?k=v")

	pr, err := d.Direct(req, target)
	if err != nil {
		t.Fatalf("Direct: %v", err)
	}
	if pr.CallMeta.Caller == nil || pr.CallMeta.Caller.CallerString() != "gateway:api-gateway" {
		t.Errorf("caller = %#v", pr.CallMeta.Caller)
	}
	if pr.CallMeta.ParentSpanID.IsZero() {
		t.Error("expected a generated span id")
	}
	if pr.URL.Path != "/base/v1/users/1" {
		t.Errorf("path = %q", pr.URL.Path)
	}
	if pr.URL.RawQuery != "k=v&x=1" {
		t.Errorf("query = %q", pr.URL.RawQuery)
	}
}

func TestReverseProxyStreamsResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()

	target, _ := url.Parse(backend.URL)
	rp := &ReverseProxy{
		Director: &Director{GatewayName: "gw"},
		Resolve:  func(*http.Request) (*url.URL, error) { return target, nil },
	}

	req := httptest.NewRequest(http.MethodGet, "https://in.example.com/anything", nil)
	rec := httptest.NewRecorder()
	rp.Handle(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Test") != "yes" {
		t.Errorf("missing proxied header")
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "hello from backend" {
		t.Errorf("body = %q", body)
	}
}
