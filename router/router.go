// Package router implements component H: a longest-prefix, parameter and
// wildcard path matcher producing a per-method service mapping.
//
// Grounded on the teacher's own routing layer, which registers every
// endpoint's path directly on a github.com/julienschmidt/httprouter
// instance (appruntime/apisdk/api/services.go's createServiceHandlerAdapter,
// appruntime/apisdk/api/gateway.go's createGatewayHandlerAdapter). This
// package keeps httprouter for the literal/:param/*wildcard matching
// mechanics it already does well, and layers spec.md §3.6/§4.1's
// fallback-set, trailing-slash-companion and hard duplicate-registration
// semantics on top — none of which the teacher's registration code needed,
// since it never had to reject a conflicting route at startup.
package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// ErrEndpointNotFound is returned when the path matches no route under any
// method; a path that matches only under other methods yields a
// *MethodNotFoundError (wrapping ErrMethodNotFound) instead.
var ErrEndpointNotFound = fmt.Errorf("endpoint not found")

// ErrMethodNotFound is the sentinel callers match against with errors.Is;
// Route() never returns it directly but wraps it in a *MethodNotFoundError
// naming the attempted method, per spec.md §8 scenario S3's requirement
// that the internal_message start with "no route for method <METHOD>".
var ErrMethodNotFound = fmt.Errorf("router: no route for method")

// MethodNotFoundError names the HTTP method that had no matching route,
// while still satisfying errors.Is(err, ErrMethodNotFound).
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("no route for method %s", e.Method)
}

func (e *MethodNotFoundError) Unwrap() error { return ErrMethodNotFound }

// Route is what a successful match resolves to.
type Route struct {
	Service  string
	Endpoint string
	Params   httprouter.Params
}

type registeredKey struct {
	method string
	path   string
}

// Router maintains the main and fallback tries described in §3.6, plus a
// registry of already-seen (method, path) pairs for hard duplicate
// rejection at registration time.
type Router struct {
	main     *httprouter.Router
	fallback *httprouter.Router
	seen     map[registeredKey]string // -> service that registered it
}

func New() *Router {
	return &Router{
		main:     httprouter.New(),
		fallback: httprouter.New(),
		seen:     make(map[registeredKey]string),
	}
}

// Endpoint is one (endpoint name, path) pair to register for a service.
type Endpoint struct {
	Name string
	// Methods this endpoint responds to.
	Methods []string
	// Path is the route pattern, using httprouter's :param and *wildcard
	// syntax. A path ending in a "/*name" catch-all is treated as a fallback
	// registration (§4.1): it also matches the prefix itself and is
	// searched only after every non-fallback route has missed.
	Path string
}

// AddRoutes registers every endpoint's paths for service. It returns an
// error — never panics — on any duplicate (method, path) registration,
// matching §3.6's "hard startup error" requirement in a form callers can
// recover from during tests.
func (r *Router) AddRoutes(service string, endpoints []Endpoint) error {
	for _, ep := range endpoints {
		isFallback := strings.HasSuffix(ep.Path, "*wildcard") || strings.Contains(ep.Path, "/*")
		target := r.main
		if isFallback {
			target = r.fallback
		}

		for _, method := range ep.Methods {
			key := registeredKey{method, ep.Path}
			if owner, dup := r.seen[key]; dup {
				return fmt.Errorf("router: duplicate registration of %s %s (already registered by service %q, now by %q)",
					method, ep.Path, owner, service)
			}
			r.seen[key] = service

			handle := endpointHandle(service, ep.Name)
			target.Handle(method, ep.Path, handle)

			if isFallback {
				// A fallback wildcard also matches its own prefix with the
				// wildcard segment (and its preceding slash) absent
				// (§4.1: "/*p" matches the prefix itself).
				prefix := ep.Path
				if i := strings.LastIndex(prefix, "/*"); i >= 0 {
					prefix = prefix[:i]
				}
				if prefix == "" {
					prefix = "/"
				}
				if prefix != ep.Path {
					prefixKey := registeredKey{method, prefix}
					if _, dup := r.seen[prefixKey]; !dup {
						r.seen[prefixKey] = service
						target.Handle(method, prefix, handle)
					}
				}
			}

			if tsPath, ok := trailingSlashCompanion(ep.Path); ok {
				tsKey := registeredKey{method, tsPath}
				if _, dup := r.seen[tsKey]; !dup {
					r.seen[tsKey] = service
					target.Handle(method, tsPath, handle)
				}
			}
		}
	}
	return nil
}

// trailingSlashCompanion returns the trailing-slash variant of path, unless
// path is "/", ends in a wildcard, or already ends in "/" (§4.1).
func trailingSlashCompanion(path string) (string, bool) {
	if path == "/" || strings.HasSuffix(path, "/") || strings.Contains(path, "/*") {
		return "", false
	}
	return path + "/", true
}

type matchCtxKey struct{}

// endpointHandle produces an httprouter.Handle that, instead of serving the
// request, records its own (service, endpoint) identity into a *Route
// pointer carried in the request context. Route() below is the only
// caller: it builds a throwaway request, looks up the handle via
// httprouter.Lookup, and invokes it directly to recover which endpoint
// matched — httprouter's Lookup otherwise discards everything but the
// Params it parsed.
func endpointHandle(service, endpoint string) httprouter.Handle {
	return func(_ http.ResponseWriter, req *http.Request, params httprouter.Params) {
		if rec, ok := req.Context().Value(matchCtxKey{}).(*Route); ok {
			rec.Service = service
			rec.Endpoint = endpoint
			rec.Params = params
		}
	}
}

// Route implements §4.1's route(method, path) contract.
func (r *Router) Route(method, path string) (Route, error) {
	if route, ok := r.lookup(r.main, method, path); ok {
		return route, nil
	}
	if route, ok := r.lookup(r.fallback, method, path); ok {
		return route, nil
	}

	// Distinguish "wrong method, path exists" from "path doesn't exist at
	// all" by checking every other method against both tries.
	for _, other := range httpMethods {
		if other == method {
			continue
		}
		if _, ok := r.lookup(r.main, other, path); ok {
			return Route{}, &MethodNotFoundError{Method: method}
		}
		if _, ok := r.lookup(r.fallback, other, path); ok {
			return Route{}, &MethodNotFoundError{Method: method}
		}
	}
	return Route{}, ErrEndpointNotFound
}

var httpMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace,
}

func (r *Router) lookup(rt *httprouter.Router, method, path string) (Route, bool) {
	handle, params, _ := rt.Lookup(method, path)
	if handle == nil {
		return Route{}, false
	}
	var rec Route
	ctx := context.WithValue(context.Background(), matchCtxKey{}, &rec)
	req := (&http.Request{}).WithContext(ctx)
	handle(nil, req, params)
	return rec, rec.Service != ""
}
