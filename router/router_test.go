package router

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestBasicMatch(t *testing.T) {
	r := New()
	if err := r.AddRoutes("users", []Endpoint{
		{Name: "Get", Methods: []string{http.MethodGet}, Path: "/users/:id"},
	}); err != nil {
		t.Fatalf("AddRoutes: %v", err)
	}

	route, err := r.Route(http.MethodGet, "/users/42")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Service != "users" || route.Endpoint != "Get" {
		t.Errorf("route = %#v", route)
	}
	if route.Params.ByName("id") != "42" {
		t.Errorf("id param = %q", route.Params.ByName("id"))
	}
}

func TestDuplicateRegistrationIsHardError(t *testing.T) {
	r := New()
	if err := r.AddRoutes("users", []Endpoint{
		{Name: "Get", Methods: []string{http.MethodGet}, Path: "/users/:id"},
	}); err != nil {
		t.Fatalf("first AddRoutes: %v", err)
	}
	err := r.AddRoutes("other", []Endpoint{
		{Name: "Conflict", Methods: []string{http.MethodGet}, Path: "/users/:id"},
	})
	if err == nil {
		t.Fatal("expected duplicate registration to be rejected")
	}
}

func TestMethodNotFoundVsEndpointNotFound(t *testing.T) {
	r := New()
	if err := r.AddRoutes("users", []Endpoint{
		{Name: "Get", Methods: []string{http.MethodGet}, Path: "/users/:id"},
	}); err != nil {
		t.Fatalf("AddRoutes: %v", err)
	}

	_, err := r.Route(http.MethodPost, "/users/42")
	if !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("expected ErrMethodNotFound, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "no route for method POST") {
		t.Errorf("internal message = %q, want prefix %q", err.Error(), "no route for method POST")
	}

	if _, err := r.Route(http.MethodGet, "/nonexistent"); err != ErrEndpointNotFound {
		t.Errorf("expected ErrEndpointNotFound, got %v", err)
	}
}

func TestTrailingSlashCompanion(t *testing.T) {
	r := New()
	if err := r.AddRoutes("users", []Endpoint{
		{Name: "List", Methods: []string{http.MethodGet}, Path: "/users"},
	}); err != nil {
		t.Fatalf("AddRoutes: %v", err)
	}
	route, err := r.Route(http.MethodGet, "/users/")
	if err != nil {
		t.Fatalf("Route trailing slash: %v", err)
	}
	if route.Endpoint != "List" {
		t.Errorf("route = %#v", route)
	}
}

func TestFallbackWildcard(t *testing.T) {
	r := New()
	if err := r.AddRoutes("assets", []Endpoint{
		{Name: "Serve", Methods: []string{http.MethodGet}, Path: "/static/*wildcard"},
	}); err != nil {
		t.Fatalf("AddRoutes: %v", err)
	}

	route, err := r.Route(http.MethodGet, "/static/css/app.css")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Endpoint != "Serve" {
		t.Errorf("route = %#v", route)
	}

	route, err = r.Route(http.MethodGet, "/static")
	if err != nil {
		t.Fatalf("Route (prefix): %v", err)
	}
	if route.Endpoint != "Serve" {
		t.Errorf("prefix route = %#v", route)
	}
}

func TestMainBeforeFallback(t *testing.T) {
	r := New()
	if err := r.AddRoutes("assets", []Endpoint{
		{Name: "Fallback", Methods: []string{http.MethodGet}, Path: "/*wildcard"},
	}); err != nil {
		t.Fatalf("AddRoutes fallback: %v", err)
	}
	if err := r.AddRoutes("users", []Endpoint{
		{Name: "Get", Methods: []string{http.MethodGet}, Path: "/users/:id"},
	}); err != nil {
		t.Fatalf("AddRoutes main: %v", err)
	}

	route, err := r.Route(http.MethodGet, "/users/1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if route.Endpoint != "Get" {
		t.Errorf("expected main route to win over fallback, got %#v", route)
	}
}
