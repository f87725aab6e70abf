package apiserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"

	"github.com/relaycore/rplane/caller"
	"github.com/relaycore/rplane/router"
)

func TestUnboundEndpointReturnsNotFound(t *testing.T) {
	srv := New(router.New())
	if err := srv.Register(EndpointSpec{
		Service:  "widgets",
		Endpoint: router.Endpoint{Name: "Get", Methods: []string{http.MethodGet}, Path: "/widgets/:id"},
		Kind:     Typed,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/widgets/1", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no handler registered") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestBoundTypedHandlerDispatches(t *testing.T) {
	srv := New(router.New())
	if err := srv.Register(EndpointSpec{
		Service:  "widgets",
		Endpoint: router.Endpoint{Name: "Get", Methods: []string{http.MethodGet}, Path: "/widgets/:id"},
		Kind:     Typed,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv.Bind("widgets", "Get", func(ctx context.Context, r *http.Request, params httprouter.Params) (any, error) {
		return map[string]string{"id": params.ByName("id")}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/widgets/42", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"42"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestPrivateEndpointRejectsGatewayCaller(t *testing.T) {
	srv := New(router.New())
	if err := srv.Register(EndpointSpec{
		Service:  "widgets",
		Endpoint: router.Endpoint{Name: "Internal", Methods: []string{http.MethodGet}, Path: "/internal"},
		Kind:     Typed,
		Access:   Private,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv.Bind("widgets", "Internal", func(ctx context.Context, r *http.Request, params httprouter.Params) (any, error) {
		return "should not run", nil
	})

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("x-encore-meta-caller", "gateway:api-gateway")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body = %s", w.Code, w.Body.String())
	}
}

func TestPrivateEndpointAllowsApiCaller(t *testing.T) {
	srv := New(router.New())
	if err := srv.Register(EndpointSpec{
		Service:  "widgets",
		Endpoint: router.Endpoint{Name: "Internal", Methods: []string{http.MethodGet}, Path: "/internal"},
		Kind:     Typed,
		Access:   Private,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv.Bind("widgets", "Internal", func(ctx context.Context, r *http.Request, params httprouter.Params) (any, error) {
		cm, ok := CallMetaFromContext(ctx)
		if !ok {
			t.Error("expected call meta in context")
		}
		if _, isAPI := cm.Caller.(caller.ApiEndpoint); !isAPI {
			t.Errorf("caller = %#v, want ApiEndpoint", cm.Caller)
		}
		return "ok", nil
	})

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req.Header.Set("x-encore-meta-caller", "api:other.Endpoint")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}
