// Package authenticator implements component G: building an auth
// sub-request from an inbound request and dispatching it to either a local,
// in-process auth handler or a remote one reached over HTTP.
//
// Grounded on appruntime/apisdk/api/auth.go's AuthHandlerDesc/AuthHandler
// split (kept in the workspace as ambient reference for the late-bound
// typed-handler machinery in package apiserver) and runAuthHandler's error
// translation, generalized here to drop the teacher's tracing/request-model
// plumbing (package trace owns that independently) and to add the Remote
// dispatch path, which the teacher's runtime package — being the in-process
// side of that call — never needed to implement itself.
package authenticator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaycore/rplane/authschema"
	"github.com/relaycore/rplane/beta/errs"
	"github.com/relaycore/rplane/callmeta"
	"github.com/relaycore/rplane/ids"
	"github.com/relaycore/rplane/meta"
	"github.com/relaycore/rplane/svcauth"
	"github.com/relaycore/rplane/trace"
)

// Response is the result of authentication: either Authenticated with a uid
// and optional auth data, or Unauthenticated.
type Response struct {
	Authenticated bool
	UID           string
	Data          json.RawMessage
}

var Unauthenticated = Response{}

// Handler runs an auth sub-request, local or remote.
type Handler interface {
	Authenticate(ctx context.Context, req *http.Request, cm callmeta.CallMeta) (Response, error)
}

// Local wraps an in-process auth handler.
type Local struct {
	Handle func(ctx context.Context, req *http.Request) (Response, error)
}

func (l Local) Authenticate(ctx context.Context, req *http.Request, _ callmeta.CallMeta) (Response, error) {
	if l.Handle == nil {
		return Response{}, errs.B().Code(errs.Internal).Msg("auth handler not yet registered").Err()
	}
	return l.Handle(ctx, req)
}

// Remote dispatches to an auth handler hosted by another service, via
// POST <ServiceBase>/__encore/authhandler/<Endpoint> (§4.2 step 4).
type Remote struct {
	ServiceBase string
	Endpoint    string
	SvcAuth     svcauth.Method
	Client      *http.Client
}

func (r Remote) Authenticate(ctx context.Context, req *http.Request, cm callmeta.CallMeta) (Response, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	target := strings.TrimSuffix(r.ServiceBase, "/") + "/__encore/authhandler/" + r.Endpoint
	if req.URL.RawQuery != "" {
		target += "?" + req.URL.RawQuery
	}

	outReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return Response{}, errs.B().Code(errs.Internal).Cause(err).Msg("build auth request").Err()
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			outReq.Header.Add(k, v)
		}
	}

	cm.AddToRequest(meta.HTTPHeader(outReq.Header))
	if r.SvcAuth != nil {
		if err := r.SvcAuth.Sign(meta.HTTPHeader(outReq.Header)); err != nil {
			return Response{}, errs.B().Code(errs.Internal).Cause(err).Msg("sign auth request").Err()
		}
	}

	resp, err := client.Do(outReq)
	if err != nil {
		return Response{}, errs.B().Code(errs.Unavailable).Cause(err).Msg("remote auth handler unreachable").Err()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errs.B().Code(errs.Internal).Cause(err).Msg("read auth response").Err()
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return Unauthenticated, nil
	}
	if resp.StatusCode >= 300 {
		return Response{}, errs.B().Code(errs.HTTPStatusToCode(resp.StatusCode)).Msgf(
			"remote auth handler returned %d", resp.StatusCode).Err()
	}

	uid := resp.Header.Get(meta.UserID.WireName())
	if uid == "" {
		return Unauthenticated, nil
	}
	return Response{Authenticated: true, UID: uid, Data: json.RawMessage(body)}, nil
}

// Authenticator runs §4.2's full algorithm against a declared Schema and a
// dispatchable Handler.
type Authenticator struct {
	Schema  authschema.Schema
	Handler Handler
	// Trace receives a span-start/span-end event pair around every auth
	// sub-request dispatched to Handler (§2's data-flow diagram, §3.5's
	// matching-pair invariant). Nil disables tracing, matching Log.Add's
	// nil-safety.
	Trace *trace.Log
}

// Authenticate implements §4.2 steps 1-5.
func (a *Authenticator) Authenticate(ctx context.Context, req *http.Request, cm callmeta.CallMeta) (Response, error) {
	if a.Schema.IsEmpty() {
		return Unauthenticated, nil
	}
	if !a.Schema.Present(req) {
		return Unauthenticated, nil
	}

	subReq := buildSubRequest(req, a.Schema)
	subCM := cm
	subCM.ParentSpanID = [8]byte{} // the auth sub-request carries no parent span id

	span, _ := ids.GenSpanID()

	var startBuf trace.EventBuffer
	startBuf.String(req.Method)
	startBuf.String(req.URL.Path)
	a.Trace.Add(trace.Event{Type: trace.EventSpanStart, TraceID: cm.TraceID, SpanID: span, Data: startBuf})

	started := time.Now()
	resp, err := a.Handler.Authenticate(ctx, subReq, subCM)

	var endBuf trace.EventBuffer
	endBuf.Duration(time.Since(started))
	endBuf.ErrWithStack(err)
	a.Trace.Add(trace.Event{Type: trace.EventSpanEnd, TraceID: cm.TraceID, SpanID: span, Data: endBuf})

	if err != nil {
		if errs.Code(err) == errs.Unauthenticated {
			return Unauthenticated, nil
		}
		return Response{}, err
	}
	return resp, nil
}

// buildSubRequest constructs the minimal request carrying only the
// declared header names and query keys (§4.2 step 3 parts a, b).
func buildSubRequest(req *http.Request, schema authschema.Schema) *http.Request {
	ext := schema.Extract(req)

	u := &url.URL{Path: req.URL.Path}
	if len(ext.Query) > 0 {
		q := url.Values{}
		for _, p := range ext.Query {
			q.Add(p.Key, p.Value)
		}
		u.RawQuery = q.Encode()
	}

	sub := &http.Request{
		Method: http.MethodPost,
		URL:    u,
		Header: ext.Headers,
	}
	return sub.WithContext(req.Context())
}
