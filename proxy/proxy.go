// Package proxy implements component I: the director that turns an inbound
// gateway request into an outbound service request, and the reverse proxy
// that streams it through.
//
// Grounded on appruntime/apisdk/api/gateway.go's createGatewayHandlerAdapter,
// which builds an httputil.ReverseProxy per hosted endpoint and wires its
// ErrorLog through a zerolog adapter. This package uses neither
// httputil.ReverseProxy nor a logger: ReverseProxy.Handle writes each
// failure as a structured *errs.Error response itself. The teacher builds
// one proxy per endpoint pointed at a fixed
// service base URL; this package generalizes that into a Director that
// computes the downstream URL, auth and meta headers per-request, since
// spec.md §4.5 requires the call-meta and authenticator steps to run on
// every proxied request rather than once at startup.
package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/relaycore/rplane/authenticator"
	"github.com/relaycore/rplane/beta/errs"
	"github.com/relaycore/rplane/caller"
	"github.com/relaycore/rplane/callmeta"
	"github.com/relaycore/rplane/ids"
	"github.com/relaycore/rplane/meta"
	"github.com/relaycore/rplane/svcauth"
	"github.com/relaycore/rplane/trace"
)

// ProxyRequest is the outbound request §4.5 step 5/6 builds.
type ProxyRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	CallMeta callmeta.CallMeta
}

// Director turns an inbound request into a ProxyRequest, per §4.5's
// Director::direct.
type Director struct {
	GatewayName string
	Auth        *authenticator.Authenticator
	SvcAuth     svcauth.Method
	// Trace receives a span-start event whenever Direct opens a fresh span
	// (§2's data-flow diagram: "Trace events (M) emitted at span
	// boundaries"). Nil disables tracing, matching Log.Add's nil-safety.
	Trace *trace.Log
}

// Direct implements §4.5 Director::direct steps 1-6. targetBase is the
// already-resolved base URL of the service hosting this route.
func (d *Director) Direct(req *http.Request, targetBase *url.URL) (*ProxyRequest, error) {
	cm, err := callmeta.FromTransport(meta.HTTPRequest(req))
	if err != nil {
		return nil, errs.B().Code(errs.InvalidArgument).Cause(err).Msg("invalid call metadata").Err()
	}

	if cm.ParentSpanID.IsZero() {
		span, err := ids.GenSpanID()
		if err != nil {
			return nil, errs.B().Code(errs.Internal).Cause(err).Msg("generate span id").Err()
		}
		cm = cm.WithSpan(span)

		var buf trace.EventBuffer
		buf.String(req.Method)
		buf.String(req.URL.Path)
		d.Trace.Add(trace.Event{Type: trace.EventSpanStart, TraceID: cm.TraceID, SpanID: span, Data: buf})
	}
	cm = cm.WithCaller(caller.Gateway{Name: d.GatewayName})

	if d.Auth != nil {
		authResp, err := d.Auth.Authenticate(req.Context(), req, cm)
		if err != nil {
			return nil, err
		}
		if authResp.Authenticated {
			cm.UserID = authResp.UID
			cm.UserData = authResp.Data
		}
	}

	outURL := joinURL(targetBase, req.URL)

	header := make(http.Header, len(req.Header))
	for k, vs := range req.Header {
		header[k] = append([]string(nil), vs...)
	}

	cm.AddToRequest(meta.HTTPHeader(header))
	if d.SvcAuth != nil {
		if err := d.SvcAuth.Sign(meta.HTTPHeader(header)); err != nil {
			return nil, errs.B().Code(errs.Internal).Cause(err).Msg("sign outbound request").Err()
		}
	}

	return &ProxyRequest{
		Method:   req.Method,
		URL:      outURL,
		Header:   header,
		CallMeta: cm,
	}, nil
}

// joinURL joins target's base with inbound's path, merging query strings
// by concatenation (§4.5 step 5: "target query + inbound query concatenated
// with &") rather than by key-aware merge — a target base carrying its own
// fixed query parameters is a supported deployment pattern.
func joinURL(target, inbound *url.URL) *url.URL {
	out := *target
	out.Path = strings.TrimSuffix(target.Path, "/") + "/" + strings.TrimPrefix(inbound.Path, "/")
	if target.Path == "" {
		out.Path = inbound.Path
	}

	switch {
	case target.RawQuery == "":
		out.RawQuery = inbound.RawQuery
	case inbound.RawQuery == "":
		out.RawQuery = target.RawQuery
	default:
		out.RawQuery = target.RawQuery + "&" + inbound.RawQuery
	}
	return &out
}

// ReverseProxy streams a ProxyRequest through to its downstream target and
// the response back, with no body buffering (§4.5 ReverseProxy::handle).
type ReverseProxy struct {
	Director *Director
	// Resolve returns the base URL of the service hosting method+path,
	// e.g. from service discovery.
	Resolve func(req *http.Request) (*url.URL, error)
	Client  *http.Client
}

// NewH2CClient returns an http.Client that speaks h2c (HTTP/2 without TLS)
// to downstream services, matching the teacher's intra-cluster service
// mesh transport assumption.
func NewH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func (p *ReverseProxy) Handle(w http.ResponseWriter, req *http.Request) {
	target, err := p.Resolve(req)
	if err != nil {
		errs.HTTPError(w, errs.B().Code(errs.Unavailable).Cause(err).Msg("resolve service").Err())
		return
	}

	pr, err := p.Director.Direct(req, target)
	if err != nil {
		errs.HTTPError(w, err)
		return
	}

	started := time.Now()
	var roundTripErr error
	defer func() {
		var buf trace.EventBuffer
		buf.Duration(time.Since(started))
		buf.ErrWithStack(roundTripErr)
		p.Director.Trace.Add(trace.Event{Type: trace.EventSpanEnd, TraceID: pr.CallMeta.TraceID, SpanID: pr.CallMeta.ParentSpanID, Data: buf})
	}()

	outReq, err := http.NewRequestWithContext(req.Context(), pr.Method, pr.URL.String(), req.Body)
	if err != nil {
		roundTripErr = err
		errs.HTTPError(w, errs.B().Code(errs.Internal).Cause(err).Msg("build outbound request").Err())
		return
	}
	outReq.Header = pr.Header
	outReq.ContentLength = req.ContentLength

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(outReq)
	if err != nil {
		roundTripErr = err
		errs.HTTPError(w, errs.B().Code(errs.Unavailable).Cause(err).Msg("proxy request failed").Err())
		return
	}
	defer func() { _ = resp.Body.Close() }()

	outHeader := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			outHeader.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
