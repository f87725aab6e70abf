// Package gateway implements component J: the edge process that routes
// inbound requests to the service hosting each endpoint, running CORS and
// the authenticator ahead of the proxy hop.
//
// Grounded on appruntime/apisdk/api/gateway.go's createGatewayHandlerAdapter
// (one httprouter.Handle per hosted endpoint, resolving a service's base
// URL from runtime.ServiceDiscovery and proxying through it) generalized
// into a single ServeHTTP that consults router.Router for the match instead
// of one static handler per endpoint, since this module's router already
// carries its own longest-prefix/fallback/duplicate-rejection semantics
// (component H) rather than registering directly against httprouter.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/relaycore/rplane/beta/errs"
	"github.com/relaycore/rplane/cors"
	"github.com/relaycore/rplane/proxy"
	"github.com/relaycore/rplane/router"
)

// ServiceDiscovery resolves a service name to its base URL, the gateway's
// view of runtime.ServiceDiscovery.
type ServiceDiscovery interface {
	ResolveService(name string) (*url.URL, error)
}

// StaticDiscovery is the simplest ServiceDiscovery: a fixed name->URL map,
// good enough for tests and single-cluster deployments that don't need a
// dynamic registry.
type StaticDiscovery map[string]*url.URL

func (d StaticDiscovery) ResolveService(name string) (*url.URL, error) {
	u, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("gateway: no service discovery entry for %q", name)
	}
	return u, nil
}

// Gateway wires router(H), cors(L), and proxy(I) together behind one
// http.Handler, the shape §2's data-flow diagram describes for a
// gateway-fronted request.
type Gateway struct {
	Name      string
	Router    *router.Router
	Discovery ServiceDiscovery
	Director  *proxy.Director
	Client    *http.Client
	CORS      cors.Policy
	Logger    zerolog.Logger
}

// Handler returns the gateway's complete inbound handler, with CORS
// wrapped around the route-and-proxy core.
func (g *Gateway) Handler() http.Handler {
	return cors.Wrap(g.CORS, http.HandlerFunc(g.serve))
}

func (g *Gateway) serve(w http.ResponseWriter, req *http.Request) {
	route, err := g.Router.Route(req.Method, req.URL.Path)
	if err != nil {
		var mnf *router.MethodNotFoundError
		if errors.As(err, &mnf) {
			errs.HTTPError(w, errs.B().Code(errs.Unimplemented).Msg(mnf.Error()).Err())
		} else {
			g.Logger.Debug().Str("path", req.URL.Path).Msg("gateway: no route matched")
			errs.HTTPError(w, errs.B().Code(errs.NotFound).Msg(err.Error()).Err())
		}
		return
	}

	logger := g.Logger.With().Str("service", route.Service).Str("endpoint", route.Endpoint).Logger()

	rp := &proxy.ReverseProxy{
		Director: g.Director,
		Client:   g.Client,
		Resolve: func(*http.Request) (*url.URL, error) {
			base, err := g.Discovery.ResolveService(route.Service)
			if err != nil {
				logger.Err(err).Msg("gateway: service discovery failed")
			}
			return base, err
		},
	}
	logger.Trace().Msg("gateway: proxying request to service")
	rp.Handle(w, req)
}
